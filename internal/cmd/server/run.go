// Package server runs the s4 HTTP gateway daemon.
package server

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/jonbarlo/s4/internal/auth"
	"github.com/jonbarlo/s4/internal/config"
	"github.com/jonbarlo/s4/internal/db"
	"github.com/jonbarlo/s4/internal/ftpclient"
	"github.com/jonbarlo/s4/internal/httpapi"
	"github.com/jonbarlo/s4/internal/logging"
	"github.com/jonbarlo/s4/internal/vault"
	"github.com/jonbarlo/s4/internal/version"
)

func Run(args []string) error {
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	configPath := fs.String("config", "./s4.yaml", "path to s4.yaml")
	logLevel := fs.String("log-level", "", "override log level: debug|info|warning|error")
	showVersion := fs.Bool("version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *showVersion {
		fmt.Printf("s4 server %s\n", version.Version)
		return nil
	}

	c, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	level := c.Log.Level
	if strings.TrimSpace(*logLevel) != "" {
		level = *logLevel
	}
	lg, err := logging.New(logging.Options{Level: level, JSON: c.Log.JSON, SetDefault: true})
	if err != nil {
		return err
	}

	ctx := context.Background()
	d, err := db.Open(ctx, c.DB.Path)
	if err != nil {
		return err
	}
	defer d.Close()

	initialized, err := d.IsInitialized(ctx)
	if err != nil {
		return err
	}
	if !initialized {
		return errors.New("not initialized; run setup")
	}

	transport := &ftpclient.Client{
		Host:     c.FTP.Host,
		Port:     c.FTP.Port,
		User:     c.FTP.User,
		Password: c.FTP.Password,
		Timeout:  time.Duration(c.FTP.TimeoutSeconds) * time.Second,
	}
	coord := &vault.Coordinator{
		DB:         d,
		Transport:  transport,
		Logger:     lg,
		StagingDir: c.StagingDir,
	}
	api := &httpapi.Server{
		DB:     d,
		Vault:  coord,
		Tokens: &auth.Tokens{Secret: []byte(c.Auth.JWTSecret), TTL: time.Duration(c.Auth.TokenTTLMinutes) * time.Minute},
		Logger: lg,

		BindAddr:       c.HTTP.Bind,
		Port:           c.HTTP.Port,
		CertPath:       c.HTTP.TLS.CertPath,
		KeyPath:        c.HTTP.TLS.KeyPath,
		MaxUploadBytes: int64(c.HTTP.MaxUploadMB) << 20,
	}

	lg.Info("s4 server starting",
		"bind", c.HTTP.Bind, "port", c.HTTP.Port,
		"ftp_host", c.FTP.Host, "version", version.Version)
	return api.ListenAndServe()
}
