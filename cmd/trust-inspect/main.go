package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/mail"
	"os"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/mikey/sender-trust/internal/adapters/brand"
	"github.com/mikey/sender-trust/internal/adapters/doh"
	"github.com/mikey/sender-trust/internal/adapters/favicon"
	"github.com/mikey/sender-trust/internal/adapters/headers"
	"github.com/mikey/sender-trust/internal/config"
	"github.com/mikey/sender-trust/internal/core"
	"github.com/mikey/sender-trust/internal/factory"
	"github.com/mikey/sender-trust/internal/logging"
	"github.com/mikey/sender-trust/internal/sanitize"
)

var (
	inputFile = flag.String("file", "", "Input email file (use stdin if not specified)")
	runAI     = flag.Bool("ai", false, "Also run the AI phishing assessment")
	skipBrand = flag.Bool("skip-brand", false, "Skip network brand resolution")
	verbose   = flag.Bool("verbose", false, "Enable verbose logging")
	jsonLog   = flag.Bool("json-log", false, "Output logs in JSON format")
)

// inspection is the combined CLI output for one message.
type inspection struct {
	Verdict core.Verdict     `json:"verdict"`
	Auth    *core.AuthResult `json:"auth,omitempty"`
	Sender  *core.SenderInfo `json:"sender,omitempty"`
	Ai      *core.AiResult   `json:"ai,omitempty"`
}

func main() {
	flag.Parse()

	// Initialize logger
	logger, err := logging.InitConsoleLogger(*verbose, *jsonLog)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := config.New()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	// Read email from file or stdin
	var emailReader io.Reader
	if *inputFile != "" {
		file, err := os.Open(*inputFile)
		if err != nil {
			logger.Fatal("Failed to open input file", zap.Error(err), zap.String("file", *inputFile))
		}
		defer file.Close()
		emailReader = file
	} else {
		emailReader = os.Stdin
	}

	raw, err := io.ReadAll(emailReader)
	if err != nil {
		logger.Fatal("Failed to read email", zap.Error(err))
	}

	// Parse email
	msg, err := mail.ReadMessage(bufio.NewReader(strings.NewReader(string(raw))))
	if err != nil {
		logger.Fatal("Failed to parse email", zap.Error(err))
	}

	from := msg.Header.Get("From")
	subject := msg.Header.Get("Subject")
	bodyBytes, err := io.ReadAll(msg.Body)
	if err != nil {
		logger.Fatal("Failed to read email body", zap.Error(err))
	}
	body := string(bodyBytes)

	senderEmail, displayName := splitFrom(from)
	if senderEmail == "" {
		logger.Fatal("No parseable From address", zap.String("from", from))
	}

	ctx := context.Background()
	out := &inspection{}

	// The message carries its own Authentication-Results; parse them from
	// the raw text rather than fetching anything.
	out.Auth = headers.Parse(string(raw), senderEmail)

	if !*skipBrand {
		out.Sender = resolveBrand(ctx, cfg, logger, senderEmail)
	}

	logo := core.LogoSourceUnknown
	if out.Sender != nil {
		logo = out.Sender.LogoSource
	}
	out.Verdict = core.Classify(out.Auth, logo)

	if *runAI {
		out.Ai = analyze(ctx, cfg, logger, &core.EmailAnalysisRequest{
			DisplayName: displayName,
			SenderEmail: senderEmail,
			Subject:     subject,
			BodyText:    body,
			Links:       extractLinks(body),
			Auth:        out.Auth,
		})
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		logger.Fatal("Failed to encode result", zap.Error(err))
	}
}

// splitFrom returns the address and display name from a From header value.
func splitFrom(from string) (string, string) {
	addr, err := mail.ParseAddress(from)
	if err != nil {
		return strings.TrimSpace(from), ""
	}
	return addr.Address, addr.Name
}

// resolveBrand runs the BIMI-then-favicon chain for the sender's domain.
func resolveBrand(ctx context.Context, cfg *config.Config, logger *zap.Logger, senderEmail string) *core.SenderInfo {
	dohTimeout, err := cfg.GetDuration("bimi.timeout")
	if err != nil {
		logger.Fatal("Invalid BIMI timeout", zap.Error(err))
	}
	favTimeout, err := cfg.GetDuration("favicon.timeout")
	if err != nil {
		logger.Fatal("Invalid favicon timeout", zap.Error(err))
	}

	dohClient := doh.NewClient(cfg.GetString("bimi.doh_endpoint"), dohTimeout, cfg.GetFloat64("bimi.queries_per_second"), logger)
	prober := favicon.NewProber(cfg.GetString("favicon.service_url"), cfg.GetString("favicon.reference_domain"), favTimeout, logger)
	resolver := brand.NewResolver(dohClient, prober, logger)

	domain := senderEmail[strings.LastIndex(senderEmail, "@")+1:]
	info, err := resolver.Resolve(ctx, domain)
	if err != nil {
		logger.Warn("Brand resolution failed", zap.Error(err))
		return nil
	}
	return info
}

// analyze runs a one-shot AI assessment with the configured provider.
func analyze(ctx context.Context, cfg *config.Config, logger *zap.Logger, req *core.EmailAnalysisRequest) *core.AiResult {
	provider, err := factory.NewLLMFactory(cfg, logger).CreateProvider(ctx)
	if err != nil {
		logger.Fatal("Failed to create AI provider", zap.Error(err))
	}

	timeout, err := cfg.GetDuration("ai.timeout")
	if err != nil {
		logger.Fatal("Invalid AI timeout", zap.Error(err))
	}
	svc := core.NewAiService(provider, sanitize.New(logger, cfg.GetInt("ai.max_field_size")), logger, timeout)
	defer svc.Reset()

	start := time.Now()
	res, err := svc.Analyze(ctx, req, true)
	if err != nil {
		logger.Warn("AI analysis unavailable", zap.Error(err))
		return nil
	}
	logger.Info("AI analysis complete", zap.Duration("took", time.Since(start)))
	return res
}

// extractLinks pulls anchors out of an HTML body. A plain-text body yields
// none.
func extractLinks(body string) []core.EmailLink {
	if !strings.Contains(body, "<a") {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil
	}

	var links []core.EmailLink
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		if href == "" || strings.HasPrefix(href, "mailto:") {
			return
		}
		links = append(links, core.EmailLink{
			Text: strings.TrimSpace(sel.Text()),
			Href: href,
		})
	})
	return links
}
