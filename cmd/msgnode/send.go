package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kcenon/messaging-system-go/core"
)

func sendCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "send", Short: "connect to a node and send one message"}
	cmd.AddCommand(sendEchoCmd())
	cmd.AddCommand(sendFileCmd())
	cmd.AddCommand(sendBinaryCmd())
	return cmd
}

func dialAndHandshake(ctx context.Context, addr string) (*core.Session, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", addr, err)
	}
	opts := sessionOptionsFromConfig()
	opts.ConnectAsClient = true
	sess := core.NewSession(conn, opts, log.WithField("cmd", "send"))

	errCh := make(chan error, 1)
	go func() { errCh <- sess.Run(ctx) }()

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if sess.State() == core.HandshakeConfirmed {
			return sess, nil
		}
		if sess.State() == core.HandshakeRejected {
			return nil, core.ErrHandshakeRejected
		}
		select {
		case err := <-errCh:
			return nil, err
		case <-time.After(10 * time.Millisecond):
		}
	}
	return nil, fmt.Errorf("timed out waiting for handshake with %s", addr)
}

func sendEchoCmd() *cobra.Command {
	var addr, text string
	cmd := &cobra.Command{
		Use:   "echo [addr]",
		Short: "send one cli_echo container message and print the text sent",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				addr = args[0]
			}
			sess, err := dialAndHandshake(cmd.Context(), addr)
			if err != nil {
				return err
			}
			defer sess.Close()

			msg := core.NewContainer()
			msg.SetMessageType("cli_echo")
			msg.Add(core.NewString("text", text))
			if err := sess.SendContainer(core.PriorityNormal, msg); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "sent: %s\n", text)
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:9600", "node address")
	cmd.Flags().StringVar(&text, "text", "ping", "text payload")
	return cmd
}

func sendBinaryCmd() *cobra.Command {
	var addr, payload string
	cmd := &cobra.Command{
		Use:   "binary [addr]",
		Short: "send one binary-mode frame",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				addr = args[0]
			}
			sess, err := dialAndHandshake(cmd.Context(), addr)
			if err != nil {
				return err
			}
			defer sess.Close()
			return sess.SendBinaryChunks(core.PriorityNormal, []byte(payload))
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:9600", "node address")
	cmd.Flags().StringVar(&payload, "payload", "", "raw payload to send")
	return cmd
}

func sendFileCmd() *cobra.Command {
	var addr, path, targetID, targetSubID, targetPath, indicationID string
	cmd := &cobra.Command{
		Use:   "file [addr]",
		Short: "send a local file as a single file-mode frame",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				addr = args[0]
			}
			if targetPath == "" {
				targetPath = path
			}
			if indicationID == "" {
				indicationID = path
			}
			sess, err := dialAndHandshake(cmd.Context(), addr)
			if err != nil {
				return err
			}
			defer sess.Close()

			if err := sess.SendFile(core.PriorityNormal, indicationID, targetID, targetSubID, path, targetPath); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "sent %s as %s\n", path, indicationID)
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:9600", "node address")
	cmd.Flags().StringVar(&path, "path", "", "file to send")
	cmd.Flags().StringVar(&targetID, "target-id", "", "recipient's source_id")
	cmd.Flags().StringVar(&targetSubID, "target-sub-id", "", "recipient's source_sub_id")
	cmd.Flags().StringVar(&targetPath, "target-path", "", "path to write on the recipient (defaults to --path)")
	cmd.Flags().StringVar(&indicationID, "indication-id", "", "transfer identifier (defaults to --path)")
	return cmd
}
