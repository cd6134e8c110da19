package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/heb-mcp/hebsession/internal/auth/oauth"
	"github.com/heb-mcp/hebsession/internal/browser"
	"github.com/heb-mcp/hebsession/internal/config"
	"github.com/heb-mcp/hebsession/internal/misc"
	log "github.com/sirupsen/logrus"
)

const (
	loginTimeout       = 5 * time.Minute
	manualPromptDelay  = 15 * time.Second
	callbackPollWindow = time.Second
)

// LoginOptions contains options for the login process.
type LoginOptions struct {
	// NoBrowser skips opening the browser and asks for the callback URL right away.
	NoBrowser bool

	// Prompt allows the caller to provide interactive input when needed.
	Prompt func(prompt string) (string, error)
}

// DoLogin runs the PKCE authorization-code flow from the terminal and stores the resulting
// tokens for userID, keeping any cookies already on record.
//
// Parameters:
//   - cfg: The application configuration
//   - userID: The user the tokens are stored for
//   - options: Login options including browser behavior and prompts
func DoLogin(cfg *config.Config, userID string, options *LoginOptions) {
	if options == nil {
		options = &LoginOptions{}
	}
	if options.Prompt == nil {
		options.Prompt = defaultPrompt
	}
	if err := login(context.Background(), cfg, userID, options); err != nil {
		log.Errorf("sign-in failed: %v", err)
		os.Exit(1)
	}
	fmt.Println("Sign-in successful!")
}

func login(ctx context.Context, cfg *config.Config, userID string, options *LoginOptions) error {
	rt, err := NewRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()
	if rt.OAuth == nil {
		return errors.New("oauth client id is not configured")
	}

	pc, err := oauth.NewContext()
	if err != nil {
		return err
	}
	authURL, err := rt.OAuth.AuthURL(ctx, pc)
	if err != nil {
		return err
	}

	redirect := strings.TrimSpace(cfg.OAuth.RedirectURI)
	if redirect == "" {
		redirect = oauth.DefaultRedirectURI
	}
	srv, err := oauth.NewCallbackServer(redirect)
	if err != nil {
		return err
	}
	if err = srv.Start(); err != nil {
		return err
	}
	defer func() {
		if errStop := srv.Stop(context.Background()); errStop != nil {
			log.Warnf("failed to stop callback server: %v", errStop)
		}
	}()

	switch {
	case options.NoBrowser:
		fmt.Printf("Visit the following URL to sign in:\n%s\n", authURL)
	case !browser.IsAvailable():
		log.Warn("No browser available; please open the URL manually")
		fmt.Printf("Visit the following URL to sign in:\n%s\n", authURL)
	default:
		if errOpen := browser.OpenURL(authURL); errOpen != nil {
			log.Warnf("Failed to open browser automatically: %v", errOpen)
			fmt.Printf("Visit the following URL to sign in:\n%s\n", authURL)
		}
	}
	if errCopy := browser.CopyToClipboard(authURL); errCopy == nil {
		fmt.Println("The sign-in URL has been copied to the clipboard.")
	}
	fmt.Printf("Waiting for the sign-in callback on %s ...\n", srv.Addr())

	code, state, err := waitForCallback(ctx, srv, options)
	if err != nil {
		return err
	}
	if state != pc.State {
		return errors.New("state mismatch; the callback does not belong to this sign-in")
	}

	tokens, err := rt.OAuth.Exchange(ctx, code, pc)
	if err != nil {
		return err
	}
	cookies, err := rt.Tenants.StoredCookies(ctx, userID)
	if err != nil {
		log.Warnf("could not read existing cookies for %s: %v", userID, err)
		cookies = nil
	}
	if _, err = rt.Tenants.SaveTokens(ctx, userID, tokens, cookies); err != nil {
		return err
	}
	misc.LogCredentialSeparator()
	misc.LogSavingCredentials(userID, rt.location(userID))
	return nil
}

// waitForCallback waits for the local callback server, offering a manual paste prompt when the
// browser redirect does not arrive.
func waitForCallback(ctx context.Context, srv *oauth.CallbackServer, options *LoginOptions) (string, string, error) {
	deadline := time.Now().Add(loginTimeout)
	promptAt := time.Now().Add(manualPromptDelay)
	if options.NoBrowser {
		promptAt = time.Now()
	}
	for time.Now().Before(deadline) {
		if !time.Now().Before(promptAt) {
			promptAt = deadline
			input, errPrompt := options.Prompt("Paste the callback URL (or press Enter to keep waiting): ")
			if errPrompt != nil {
				return "", "", errPrompt
			}
			parsed, errParse := misc.ParseOAuthCallback(input)
			if errParse != nil {
				return "", "", errParse
			}
			if parsed != nil {
				if parsed.Error != "" {
					return "", "", fmt.Errorf("provider returned %s: %s", parsed.Error, parsed.ErrorDescription)
				}
				return parsed.Code, parsed.State, nil
			}
		}
		result, err := srv.Wait(ctx, callbackPollWindow)
		if err != nil {
			if ctx.Err() != nil {
				return "", "", ctx.Err()
			}
			continue
		}
		if result.Error != "" {
			return "", "", fmt.Errorf("provider returned %s", result.Error)
		}
		return result.Code, result.State, nil
	}
	return "", "", errors.New("timed out waiting for the sign-in callback")
}

func (rt *Runtime) location(userID string) string {
	if rt.Files != nil {
		if path, err := rt.Files.Path(userID); err == nil {
			return path
		}
	}
	switch {
	case rt.Config.GitStore.Remote != "":
		return rt.Config.GitStore.Remote
	case rt.Config.Postgres.DSN != "":
		return "postgres"
	case rt.Config.ObjectStore.Endpoint != "":
		return "bucket " + rt.Config.ObjectStore.Bucket
	}
	return "session store"
}

func defaultPrompt(prompt string) (string, error) {
	fmt.Print(prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
