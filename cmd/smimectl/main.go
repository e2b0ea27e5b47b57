// Command smimectl is a companion administrative binary for gosmime's
// store.FileBackend, in the library's own tradition of keeping every CLI
// concern out of the library packages (spec.md §6 "No CLI, no environment
// variables of its own") and pushing it into a thin cmd/ consumer, the way
// the teacher's cmd/maddyctl wraps its library packages.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/foxcpp/gosmime/digest"
	"github.com/foxcpp/gosmime/internal/log"
	"github.com/foxcpp/gosmime/mailbox"
	"github.com/foxcpp/gosmime/model"
	"github.com/foxcpp/gosmime/smime"
	"github.com/foxcpp/gosmime/store"
)

func main() {
	app := cli.NewApp()
	app.Name = "smimectl"
	app.Usage = "gosmime certificate store administration utility"
	app.Flags = []cli.Flag{
		&cli.PathFlag{
			Name:    "store",
			Usage:   "Certificate store root directory",
			EnvVars: []string{"SMIME_STORE"},
			Value:   store.DefaultRoot,
		},
		&cli.StringFlag{
			Name:    "password",
			Usage:   "user.p12 password",
			EnvVars: []string{"SMIME_STORE_PASSWORD"},
		},
	}

	app.Commands = []*cli.Command{
		{
			Name:      "import",
			Usage:     "Import a certificate, CRL, or certs-only SignedData into the store",
			ArgsUsage: "FILE",
			Action:    importCommand,
		},
		{
			Name:      "export",
			Usage:     "Export certificates for the given mailboxes as a certs-only SignedData",
			ArgsUsage: "ADDRESS...",
			Action:    exportCommand,
		},
		{
			Name:      "sign",
			Usage:     "Sign stdin and write detached CMS SignedData to stdout",
			ArgsUsage: "ADDRESS",
			Action:    signCommand,
		},
		{
			Name:      "verify",
			Usage:     "Verify a detached CMS SignedData",
			ArgsUsage: "CONTENT-FILE SIGNATURE-FILE",
			Action:    verifyCommand,
		},
	}

	app.ExitErrHandler = func(c *cli.Context, err error) {
		cli.HandleExitCoder(err)
		if err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			cli.OsExiter(1)
		}
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openContext(ctx *cli.Context) *smime.Context {
	backend := store.NewFileBackend(store.FileConfig{
		Root:     ctx.String("store"),
		Password: ctx.String("password"),
	}, log.Logger{Name: "smimectl"})
	return smime.NewContext(backend, log.Logger{Name: "smimectl"})
}

func importCommand(ctx *cli.Context) error {
	if ctx.Args().Len() != 1 {
		return cli.Exit("Error: exactly one FILE argument is required", 2)
	}
	data, err := os.ReadFile(ctx.Args().First())
	if err != nil {
		return cli.Exit(fmt.Sprintf("Error: %v", err), 1)
	}
	c := openContext(ctx)
	if err := c.Import(data); err != nil {
		return cli.Exit(fmt.Sprintf("Error: %v", err), 1)
	}
	return nil
}

func exportCommand(ctx *cli.Context) error {
	if ctx.Args().Len() == 0 {
		return cli.Exit("Error: at least one ADDRESS argument is required", 2)
	}
	mboxes := make([]mailbox.Mailbox, 0, ctx.Args().Len())
	for _, a := range ctx.Args().Slice() {
		mbox, err := mailbox.Parse(a)
		if err != nil {
			return cli.Exit(fmt.Sprintf("Error: %v", err), 2)
		}
		mboxes = append(mboxes, mbox)
	}
	c := openContext(ctx)
	der, _, err := c.Export(mboxes)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Error: %v", err), 1)
	}
	_, err = os.Stdout.Write(der)
	return err
}

func signCommand(ctx *cli.Context) error {
	if ctx.Args().Len() != 1 {
		return cli.Exit("Error: exactly one ADDRESS argument is required", 2)
	}
	mbox, err := mailbox.Parse(ctx.Args().First())
	if err != nil {
		return cli.Exit(fmt.Sprintf("Error: %v", err), 2)
	}

	backend := store.NewFileBackend(store.FileConfig{
		Root:     ctx.String("store"),
		Password: ctx.String("password"),
	}, log.Logger{Name: "smimectl"})
	signer, err := backend.GetCMSSigner(mbox, digest.SHA256)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Error: %v", err), 1)
	}

	c := smime.NewContext(backend, log.Logger{Name: "smimectl"})
	der, _, err := c.Sign(signer, os.Stdin, true)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Error: %v", err), 1)
	}
	_, err = os.Stdout.Write(der)
	return err
}

func verifyCommand(ctx *cli.Context) error {
	if ctx.Args().Len() != 2 {
		return cli.Exit("Error: CONTENT-FILE and SIGNATURE-FILE arguments are required", 2)
	}
	content, err := os.ReadFile(ctx.Args().Get(0))
	if err != nil {
		return cli.Exit(fmt.Sprintf("Error: %v", err), 1)
	}
	sigDER, err := os.ReadFile(ctx.Args().Get(1))
	if err != nil {
		return cli.Exit(fmt.Sprintf("Error: %v", err), 1)
	}

	c := openContext(ctx)
	signatures, err := c.Verify(content, sigDER)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Error: %v", err), 1)
	}
	return printSignatures(os.Stdout, signatures)
}

func printSignatures(w io.Writer, signatures model.DigitalSignatureCollection) error {
	for i, sig := range signatures {
		switch {
		case sig.ChainException != nil:
			fmt.Fprintf(w, "signer %d: FAILED: %v\n", i, sig.ChainException)
		case sig.SignerCertificate != nil:
			fmt.Fprintf(w, "signer %d: OK: %s\n", i, sig.SignerCertificate.Subject)
		default:
			fmt.Fprintf(w, "signer %d: OK\n", i)
		}
	}
	return nil
}
