package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/clearline/dialer/internal/authsession"
	"github.com/clearline/dialer/internal/authstore"
	"github.com/clearline/dialer/internal/callcontrol"
	"github.com/clearline/dialer/internal/config"
	"github.com/clearline/dialer/internal/lifecycle"
	"github.com/clearline/dialer/internal/logging"
	"github.com/clearline/dialer/internal/phone"
	"github.com/clearline/dialer/internal/realtime"
)

type appConfig struct {
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	TokenStore  string `env:"TOKEN_STORE" envDefault:"file"`
	TokenFile   string `env:"TOKEN_FILE" envDefault:".dialer-token"`
	TokenSecret string `env:"TOKEN_SECRET"`
}

func main() {
	if err := config.LoadEnv(); err != nil {
		log.Fatalf("Failed to load env file: %v", err)
	}

	cfg, err := config.New[appConfig]()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger := logging.New(cfg.LogLevel)

	authCfg, err := config.New[authsession.Config]()
	if err != nil {
		log.Fatalf("Failed to load auth config: %v", err)
	}
	rtCfg, err := config.New[realtime.Config]()
	if err != nil {
		log.Fatalf("Failed to load realtime config: %v", err)
	}

	store, err := buildStore(cfg)
	if err != nil {
		log.Fatalf("Failed to build token store: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	scanner := bufio.NewScanner(os.Stdin)
	auth := authsession.New(authCfg, store, &consoleAuthorizer{scanner: scanner}, logger)

	manager := lifecycle.NewManager(auth, func(ctx context.Context, accessToken string) (lifecycle.Client, error) {
		return realtime.NewClient(rtCfg, accessToken, logger)
	}, logger)

	appStates := make(chan lifecycle.AppState, 1)
	go manager.WatchAppState(ctx, appStates)

	app := &app{
		ctx:      ctx,
		auth:     auth,
		manager:  manager,
		provider: &clientProvider{manager: manager},
		audio:    callcontrol.NewLogAudioRouter(logger),
		logger:   logger,
		states:   appStates,
	}

	fmt.Println("===== Dialer =====")
	fmt.Printf("  Realtime ctrl: %s\n", rtCfg.CtrlAddr)
	fmt.Printf("  Token store:   %s\n", cfg.TokenStore)
	fmt.Println("==================")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  login            - Authenticate with the voice platform")
	fmt.Println("  logout           - Clear stored credentials")
	fmt.Println("  dial <number>    - Start an outbound call")
	fmt.Println("  hangup           - End the active call")
	fmt.Println("  mute             - Toggle microphone mute")
	fmt.Println("  speaker          - Toggle speakerphone")
	fmt.Println("  dtmf <digits>    - Send keypad digits")
	fmt.Println("  status           - Show call state")
	fmt.Println("  background       - Simulate the app leaving the foreground")
	fmt.Println("  quit             - Exit")
	fmt.Println("")

	go app.commandLoop(scanner, stop)

	<-ctx.Done()

	app.shutdown()
	fmt.Println("Dialer stopped")
}

func buildStore(cfg *appConfig) (authstore.Store, error) {
	switch cfg.TokenStore {
	case "file":
		if cfg.TokenSecret == "" {
			return nil, errors.New("TOKEN_SECRET is required for the file token store")
		}
		return authstore.NewFileStore(cfg.TokenFile, cfg.TokenSecret)
	case "redis":
		redisCfg, err := config.New[authstore.RedisConfig]()
		if err != nil {
			return nil, err
		}
		return authstore.NewRedisStore(redisCfg)
	case "memory":
		return authstore.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown token store %q", cfg.TokenStore)
	}
}

// consoleAuthorizer completes the interactive authorization hop on the
// terminal: the subscriber opens the URL in a browser and pastes the code
// from the redirect back here.
type consoleAuthorizer struct {
	scanner *bufio.Scanner
}

func (a *consoleAuthorizer) Authorize(ctx context.Context, authorizeURL string) (string, error) {
	fmt.Println("Open this URL in your browser to sign in:")
	fmt.Printf("  %s\n", authorizeURL)
	fmt.Print("Paste the authorization code: ")
	if !a.scanner.Scan() {
		return "", errors.New("input closed before a code was entered")
	}
	code := strings.TrimSpace(a.scanner.Text())
	if code == "" {
		return "", errors.New("empty authorization code")
	}
	return code, nil
}

// clientProvider adapts the lifecycle manager to the call controller.
type clientProvider struct {
	manager *lifecycle.Manager
}

func (p *clientProvider) Acquire(ctx context.Context) (callcontrol.Dialer, error) {
	client, err := p.manager.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	rt, ok := client.(*realtime.Client)
	if !ok {
		return nil, fmt.Errorf("unexpected client type %T", client)
	}
	return &realtimeDialer{client: rt}, nil
}

type realtimeDialer struct {
	client *realtime.Client
}

func (d *realtimeDialer) Dial(destination string) (callcontrol.Session, error) {
	return d.client.Dial(destination)
}

type app struct {
	ctx      context.Context
	auth     *authsession.Session
	manager  *lifecycle.Manager
	provider callcontrol.ClientProvider
	audio    callcontrol.AudioRouter
	logger   *logrus.Logger
	states   chan<- lifecycle.AppState

	controller *callcontrol.Controller
}

func (a *app) commandLoop(scanner *bufio.Scanner, stop context.CancelFunc) {
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		switch parts[0] {
		case "login":
			if err := a.auth.Login(a.ctx); err != nil {
				fmt.Printf("Login failed: %v\n", err)
			} else {
				fmt.Println("Logged in")
			}

		case "logout":
			a.manager.Release()
			if err := a.auth.Logout(a.ctx); err != nil {
				fmt.Printf("Logout failed: %v\n", err)
			} else {
				fmt.Println("Logged out")
			}

		case "dial":
			if len(parts) < 2 {
				fmt.Println("Usage: dial <number>")
				continue
			}
			a.dial(parts[1])

		case "hangup":
			if a.controller == nil {
				fmt.Println("No active call")
				continue
			}
			a.controller.Hangup()

		case "mute":
			if a.controller == nil {
				fmt.Println("No active call")
				continue
			}
			fmt.Printf("Muted: %v\n", a.controller.ToggleMute())

		case "speaker":
			if a.controller == nil {
				fmt.Println("No active call")
				continue
			}
			fmt.Printf("Speaker: %v\n", a.controller.ToggleSpeaker())

		case "dtmf":
			if len(parts) < 2 {
				fmt.Println("Usage: dtmf <digits>")
				continue
			}
			if a.controller == nil {
				fmt.Println("No active call")
				continue
			}
			a.controller.SendDigits(parts[1])

		case "status":
			a.status()

		case "background":
			a.states <- lifecycle.AppStateBackground
			a.states <- lifecycle.AppStateActive
			fmt.Println("Client released (app backgrounded)")

		case "quit", "exit":
			stop()
			return

		default:
			fmt.Printf("Unknown command: %s\n", parts[0])
		}
	}
	stop()
}

func (a *app) dial(number string) {
	if a.controller != nil && !a.controller.State().Terminal() {
		fmt.Println("A call is already in progress")
		return
	}
	if phone.Raw(number) == "" {
		fmt.Println("Not a dialable number")
		return
	}

	dest := phone.NormalizeE164(number)
	fmt.Printf("Calling %s...\n", phone.FormatDisplay(dest))

	a.controller = callcontrol.NewController(number, a.provider, a.audio, func() {
		fmt.Println("Call ended")
	}, a.logger)

	if err := a.controller.StartCall(a.ctx); err != nil {
		if errors.Is(err, lifecycle.ErrNoToken) {
			fmt.Println("Not logged in; run 'login' first")
		} else {
			fmt.Printf("Call failed: %v\n", err)
		}
	}
}

func (a *app) status() {
	if a.controller == nil {
		fmt.Println("State: idle")
		return
	}
	fmt.Printf("State:    %s\n", a.controller.State())
	fmt.Printf("Duration: %ds\n", a.controller.Duration())
	fmt.Printf("Muted:    %v\n", a.controller.Muted())
	fmt.Printf("Speaker:  %v\n", a.controller.SpeakerOn())
}

func (a *app) shutdown() {
	if a.controller != nil {
		a.controller.Close()
	}
	a.manager.Release()
}
