package main

import (
	"fmt"

	"github.com/emx-mail/codefetch/pkgs/config"
	"github.com/emx-mail/codefetch/pkgs/email"
)

func (a *app) handleCheck() error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	transport, err := cfg.Transport()
	if err != nil {
		return err
	}

	fmt.Fprintf(a.stdout, "Transport: %s\n", transport)
	switch transport {
	case config.TransportHTTP:
		fmt.Fprintf(a.stdout, "Inbox:     %s\n", cfg.TempMail.Address())
		api := cfg.TempMail.BaseURL
		if api == "" {
			api = email.DefaultTempMailURL
		}
		fmt.Fprintf(a.stdout, "API:       %s\n", api)
	case config.TransportIMAP:
		fmt.Fprintf(a.stdout, "Server:    %s:%d (%s)\n", cfg.IMAP.Host, cfg.IMAP.Port, cfg.IMAP.TLSMode)
		fmt.Fprintf(a.stdout, "Folder:    %s\n", cfg.IMAP.Folder)
		fmt.Fprintf(a.stdout, "Search:    %s\n", cfg.IMAP.SearchMode)
	case config.TransportPOP3:
		fmt.Fprintf(a.stdout, "Server:    %s:%d\n", cfg.POP3.Host, cfg.POP3.Port)
		fmt.Fprintf(a.stdout, "Sender:    %s\n", cfg.POP3.Sender)
	}

	account := a.account
	if account == "" {
		account = cfg.EffectiveAccount()
	}
	if account == "" {
		account = "(prompted)"
	}
	fmt.Fprintf(a.stdout, "Account:   %s\n", account)
	fmt.Fprintf(a.stdout, "Retry:     %d x %s\n", cfg.Retry.MaxAttempts, cfg.Retry.Interval.Std())
	return nil
}
