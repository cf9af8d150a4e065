package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/gregLibert/zairyu-nfc/pkg/acquire"
	"github.com/gregLibert/zairyu-nfc/pkg/cardsim"
	"github.com/gregLibert/zairyu-nfc/pkg/config"
	"github.com/gregLibert/zairyu-nfc/pkg/iso7816"
	"github.com/gregLibert/zairyu-nfc/pkg/jpcard"
	"github.com/gregLibert/zairyu-nfc/pkg/logging"
	"github.com/gregLibert/zairyu-nfc/pkg/session"
)

// envIdentifier supplies --identifier so the code does not end up in shell history.
const envIdentifier = "ZAIRYU_CARD_IDENTIFIER"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "zairyu-nfc",
		Short:         "Read Japanese Residence Cards and My Number Cards over NFC",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.SetErr(errOut)
	root.PersistentFlags().StringVar(&configPath, "config", "", "TOML or YAML configuration file")

	root.AddCommand(newReadCmd(&configPath), newReadersCmd())
	return root
}

type readFlags struct {
	cardType   string
	identifier string
	reader     string
	simulate   bool
	trace      bool
	json       bool
}

func newReadCmd(configPath *string) *cobra.Command {
	var f readFlags

	cmd := &cobra.Command{
		Use:   "read",
		Short: "Acquire the holder data of the card on the reader",
		Long: `Acquire the holder data of the card on the reader.

Residence Cards authenticate with an access key derived from the card number. This
command only knows the scheme of the simulated card: reading a real Residence Card needs
a program built on pkg/acquire with its own jpcard.KeyDeriver.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRead(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), *configPath, f)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&f.cardType, "card-type", "t", string(jpcard.Zairyu), "card type: mynumber or zairyu")
	flags.StringVarP(&f.identifier, "identifier", "i", "", "card identifier (default $"+envIdentifier+")")
	flags.StringVar(&f.reader, "reader", "", "PC/SC reader name (overrides the configuration)")
	flags.BoolVar(&f.simulate, "simulate", false, "read a simulated demo card instead of a reader")
	flags.BoolVar(&f.trace, "trace", false, "print the APDU exchanges, authentication data redacted, and the raw card objects")
	flags.BoolVar(&f.json, "json", false, "print the record as JSON")
	return cmd
}

func runRead(ctx context.Context, out, errOut io.Writer, configPath string, f readFlags) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if f.reader != "" {
		cfg.Reader.Name = f.reader
	}

	logger, err := logging.New(cfg.Log, errOut)
	if err != nil {
		return err
	}

	ct, err := jpcard.ParseCardType(f.cardType)
	if err != nil {
		return err
	}

	identifier := f.identifier
	if identifier == "" {
		identifier = os.Getenv(envIdentifier)
	}

	var host session.Host
	if f.simulate {
		card, demoID, err := cardsim.Demo(ct)
		if err != nil {
			return err
		}
		if identifier == "" {
			identifier = demoID
		}
		host = &cardsim.Host{Card: card}
		fmt.Fprintf(out, ">> Using simulated %s\n", ct.DisplayName())
	} else {
		host = session.NewPCSCHost(cfg.Reader.Name)
		fmt.Fprintf(out, ">> Present the %s to the reader\n", ct.DisplayName())
	}

	opts := cfg.AcquireOptions()
	opts.Logger = logger
	if f.simulate {
		opts.Keys = cardsim.KeyDeriver
	}

	var traces []iso7816.Trace
	var raw string
	if f.trace {
		opts.Record = func(t iso7816.Trace) { traces = append(traces, t) }
		opts.RecordRaw = func(b []jpcard.RawCardBuffer) { raw = jpcard.DescribeRaw(b) }
	}

	rec, err := acquire.New(host, opts).Acquire(ctx, ct, identifier)

	for _, t := range traces {
		fmt.Fprintln(out, iso7816.DescribeRedacted(t))
	}
	if raw != "" {
		fmt.Fprintln(out, raw)
	}
	if err != nil {
		return err
	}

	if f.json {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	}
	fmt.Fprintln(out, rec.Describe())
	return nil
}

func newReadersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "readers",
		Short: "List the PC/SC readers usable for contactless cards",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			names, err := session.NewPCSCHost("").ListReaders()
			if err != nil {
				return err
			}
			if len(names) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No smart card reader found.")
				return nil
			}
			for i, name := range names {
				fmt.Fprintf(cmd.OutOrStdout(), "[%d] %s\n", i, name)
			}
			return nil
		},
	}
}
