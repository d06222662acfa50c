// Package setup initializes the s4 database and seeds the first user.
package setup

import (
	"context"
	"errors"
	"flag"
	"fmt"

	"github.com/jonbarlo/s4/internal/auth"
	"github.com/jonbarlo/s4/internal/db"
)

func Run(args []string) error {
	fs := flag.NewFlagSet("setup", flag.ContinueOnError)
	dbPath := fs.String("db", "./s4.db", "sqlite database path")
	username := fs.String("username", "", "first user's username")
	password := fs.String("password", "", "first user's password")
	perm := fs.String("permissions", string(db.PermFullControl), "permission grant: FULL_CONTROL|READ|WRITE|READ_ACP|WRITE_ACP|NONE")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *username == "" || *password == "" {
		return errors.New("username and password are required")
	}

	ctx := context.Background()
	d, err := db.Open(ctx, *dbPath)
	if err != nil {
		return err
	}
	defer d.Close()

	initialized, err := d.IsInitialized(ctx)
	if err != nil {
		return err
	}
	if initialized {
		return errors.New("already initialized; use adduser")
	}

	hash, err := auth.HashPassword(*password, auth.DefaultArgon2Params())
	if err != nil {
		return err
	}
	id, err := d.CreateUser(ctx, *username, hash, db.Permission(*perm))
	if err != nil {
		return err
	}
	if err := d.SetInitialized(ctx); err != nil {
		return err
	}
	fmt.Printf("created user %q (id %d)\n", *username, id)
	return nil
}
