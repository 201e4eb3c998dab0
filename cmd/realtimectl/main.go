// realtimectl is the operator tool for the realtime service: mint dev
// bearer tokens and push notifications through the REST surface.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/mikhael221/gighub-realtime/internal/auth"
	"github.com/mikhael221/gighub-realtime/internal/config"

	"github.com/google/uuid"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	var err error
	switch os.Args[1] {
	case "token":
		err = runToken(os.Args[2:])
	case "notify":
		err = runNotify(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "realtimectl:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: realtimectl <token|notify> [flags]")
	fmt.Fprintln(os.Stderr, "  token  -user <uuid> [-ttl <duration>]")
	fmt.Fprintln(os.Stderr, "  notify -base <url> -token <jwt> -user <uuid> -title <s> [-body <s>] [-type <s>] [-url <s>] [-encrypt]")
}

func runToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	user := fs.String("user", "", "user id to mint a token for")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	fs.Parse(args)

	userID, err := uuid.Parse(*user)
	if err != nil {
		return fmt.Errorf("invalid -user: %w", err)
	}

	cfg := config.Load()
	signer := auth.NewSigner(cfg.JWTSecret, cfg.JWTIssuer)
	token, err := signer.Sign(userID, *ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func runNotify(args []string) error {
	fs := flag.NewFlagSet("notify", flag.ExitOnError)
	base := fs.String("base", "http://localhost:8085", "service base URL")
	token := fs.String("token", "", "bearer token")
	user := fs.String("user", "", "recipient user id")
	title := fs.String("title", "", "notification title")
	body := fs.String("body", "", "notification body")
	typ := fs.String("type", "system", "notification type")
	relatedURL := fs.String("url", "", "related URL")
	encrypt := fs.Bool("encrypt", false, "encrypt content at rest")
	fs.Parse(args)

	userID, err := uuid.Parse(*user)
	if err != nil {
		return fmt.Errorf("invalid -user: %w", err)
	}
	payload, err := json.Marshal(map[string]any{
		"userId":     userID,
		"title":      *title,
		"body":       *body,
		"type":       *typ,
		"relatedUrl": *relatedURL,
		"encrypt":    *encrypt,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, *base+"/notifications", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+*token)

	resp, err := (&http.Client{Timeout: 10 * time.Second}).Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("push failed: %s: %s", resp.Status, bytes.TrimSpace(out))
	}
	fmt.Printf("%s", out)
	return nil
}
