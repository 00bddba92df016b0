package coordinator

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"

	"divisa/internal/domain/model"
	"divisa/pkg/logger"
	"divisa/pkg/utils"
)

// RatesLoader fetches the rates shown by the terminal.
type RatesLoader interface {
	GetAllRates(ctx context.Context) (*model.AllRatesResponse, error)
}

// TerminalUI renders coordinator side effects as terminal output.
type TerminalUI struct {
	mu       sync.Mutex
	out      io.Writer
	rates    RatesLoader
	timeout  time.Duration
	log      *logger.Logger
	onReload func()

	success *color.Color
	warn    *color.Color
	info    *color.Color
	muted   *color.Color
}

func NewTerminalUI(out io.Writer, rates RatesLoader, log *logger.Logger) *TerminalUI {
	return &TerminalUI{
		out:     out,
		rates:   rates,
		timeout: 15 * time.Second,
		log:     log,
		success: color.New(color.FgGreen, color.Bold),
		warn:    color.New(color.FgYellow, color.Bold),
		info:    color.New(color.FgCyan),
		muted:   color.New(color.Faint),
	}
}

// OnReload sets what a full reload does beyond redrawing the rates.
func (t *TerminalUI) OnReload(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onReload = fn
}

func (t *TerminalUI) printf(c *color.Color, format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c.Fprintf(t.out, format+"\n", args...)
}

func (t *TerminalUI) ShowInstallPrompt() {
	t.printf(t.info, "Install available: run with --install to add divisa to this device")
}

func (t *TerminalUI) HideInstallPrompt() {
	t.printf(t.muted, "Install prompt dismissed")
}

func (t *TerminalUI) ShowSuccess(message string) {
	t.printf(t.success, "✓ %s", message)
}

func (t *TerminalUI) ShowConnectionStatus(online bool) {
	if online {
		t.printf(t.success, "● Online")
		return
	}
	t.printf(t.warn, "○ Offline")
}

func (t *TerminalUI) ShowOfflineMessage() {
	t.printf(t.warn, "No connection: showing cached data")
}

func (t *TerminalUI) ShowUpdateNotification() {
	t.printf(t.info, "A new version is available and will be applied on next focus")
}

// ReloadRates fetches and prints the current rates table.
func (t *TerminalUI) ReloadRates() {
	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()

	resp, err := t.rates.GetAllRates(ctx)
	if err != nil {
		t.log.Error("Failed to load rates", "error", err)
		t.printf(t.warn, "Could not load rates: %v", err)
		return
	}
	t.RenderRates(resp)
}

func (t *TerminalUI) RenderRates(resp *model.AllRatesResponse) {
	codes := make([]string, 0, len(resp.Data.Rates))
	for code := range resp.Data.Rates {
		codes = append(codes, string(code))
	}
	sort.Strings(codes)

	t.mu.Lock()
	defer t.mu.Unlock()

	base := resp.Data.BaseCurrency
	if base == "" {
		base = model.LocalCurrency
	}
	t.info.Fprintf(t.out, "Rates in %s (updated %s)\n", base, utils.FormatTimestamp(resp.Data.LastUpdated))
	for _, code := range codes {
		r := resp.Data.Rates[model.Currency(code)]
		fmt.Fprintf(t.out, "  %-4s %14.4f  %s\n", code, r.Rate, t.muted.Sprint(r.DatePublished))
	}
}

func (t *TerminalUI) Reload() {
	t.printf(t.info, "Reloading…")
	t.mu.Lock()
	fn := t.onReload
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
	t.ReloadRates()
}

// LinePrompt asks a yes/no install question on a line-oriented terminal.
type LinePrompt struct {
	in  io.Reader
	out io.Writer
}

func NewLinePrompt(in io.Reader, out io.Writer) *LinePrompt {
	return &LinePrompt{in: in, out: out}
}

func (p *LinePrompt) Prompt(ctx context.Context) (Outcome, error) {
	fmt.Fprint(p.out, "Install divisa on this device? [y/N] ")

	answer := make(chan string, 1)
	go func() {
		line, _ := bufio.NewReader(p.in).ReadString('\n')
		answer <- strings.ToLower(strings.TrimSpace(line))
	}()

	select {
	case a := <-answer:
		if a == "y" || a == "yes" {
			return OutcomeAccepted, nil
		}
		return OutcomeDismissed, nil
	case <-ctx.Done():
		return OutcomeDismissed, ctx.Err()
	}
}
