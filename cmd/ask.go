package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gemchat/internal/attachment"
	"gemchat/internal/chat"
	"gemchat/internal/models"

	"github.com/spf13/cobra"
)

var (
	askModel  string
	askNew    bool
	askFiles  []string
	askHidden bool
)

var askCmd = &cobra.Command{
	Use:   "ask [text]",
	Short: "Send one message to the active session and stream the reply",
	Long: `Send one message to the active session and print the reply as it streams.

The text comes from the arguments, or from stdin when none are given.
Ctrl-C stops generation and keeps what arrived so far.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.Join(args, " ")
		if text == "" && len(askFiles) == 0 {
			raw, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("read stdin: %w", err)
			}
			text = strings.TrimSpace(string(raw))
		}
		if text == "" && len(askFiles) == 0 {
			return errors.New("nothing to send")
		}

		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		if !a.chat.Settings().Configured() {
			return fmt.Errorf("%w: run 'gemchat login' first", chat.ErrNoCredential)
		}
		if askModel != "" {
			if err := a.chat.SetModel(askModel); err != nil {
				return err
			}
		}
		if askNew {
			if _, err := a.chat.CreateSession(cmd.Context()); err != nil {
				return err
			}
		}

		basic := a.cfg.BasicConfig
		stager := attachment.NewStager(basic.AttachmentDir, time.Duration(basic.AttachmentTTL)*time.Minute, basic.MaxAttachmentBytes)
		atts, err := stageFiles(stager, askFiles)
		if err != nil {
			return err
		}

		sigCtx, stopSignals := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stopSignals()
		go func() {
			<-sigCtx.Done()
			a.chat.Stop()
		}()

		printer := &deltaPrinter{w: cmd.OutOrStdout()}
		ctx := chat.WithObserver(context.WithoutCancel(cmd.Context()), printer.observe)
		session, err := a.chat.Send(ctx, chat.Input{Text: text, Attachments: atts, Hidden: askHidden})
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout())
		if last := session.Messages[len(session.Messages)-1]; last.Error {
			return errors.New("reply failed")
		}
		return nil
	},
}

func stageFiles(stager *attachment.Stager, paths []string) ([]models.Attachment, error) {
	atts := make([]models.Attachment, 0, len(paths))
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return nil, fmt.Errorf("open attachment: %w", err)
		}
		att, err := stager.Stage(filepath.Base(p), f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("stage %s: %w", p, err)
		}
		atts = append(atts, att)
	}
	return atts, nil
}

// deltaPrinter turns placeholder snapshots into terminal output.
type deltaPrinter struct {
	mu      sync.Mutex
	w       io.Writer
	printed string
}

func (p *deltaPrinter) observe(ev chat.Event) {
	if ev.Kind != chat.EventUpdate || ev.Message == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	text := ev.Message.Text
	if strings.HasPrefix(text, p.printed) {
		fmt.Fprint(p.w, text[len(p.printed):])
	} else {
		// quota notice replaces the partial text
		fmt.Fprint(p.w, "\n"+text)
	}
	p.printed = text
}

func init() {
	askCmd.Flags().StringVarP(&askModel, "model", "m", "", "Model id to use (see 'gemchat models')")
	askCmd.Flags().BoolVar(&askNew, "new", false, "Start a new session first")
	askCmd.Flags().StringSliceVarP(&askFiles, "file", "f", nil, "Attach a file (repeatable)")
	askCmd.Flags().BoolVar(&askHidden, "hidden", false, "Send as a hidden message")
	rootCmd.AddCommand(askCmd)
}
