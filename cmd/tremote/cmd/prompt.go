package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/pojntfx/tremote/pkg/trust"
	"github.com/rs/zerolog/log"
)

var (
	promptBox = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#E5C07B")).
			Padding(0, 1)
	promptTitle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#E5C07B"))
	promptLabel = lipgloss.NewStyle().Foreground(lipgloss.Color("#7F848E")).Width(14)
	promptWarn  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#E06C75"))
)

func renderPrompt(p *trust.Prompt) string {
	row := func(label, value string) string {
		return lipgloss.JoinHorizontal(lipgloss.Top, promptLabel.Render(label), value)
	}

	lines := []string{
		promptTitle.Render("Untrusted certificate for " + p.Identity.ID()),
		"",
		row("Subject", p.Certificate.CommonName),
		row("Organization", p.Certificate.Organization),
		row("Valid", p.Certificate.NotBefore.Format(time.DateOnly)+" to "+p.Certificate.NotAfter.Format(time.DateOnly)),
		row("SHA-256", p.Certificate.Fingerprint),
	}

	if p.Reason == trust.ReasonFingerprintChanged && p.Previous != nil {
		lines = append(lines,
			"",
			promptWarn.Render("The certificate changed since it was last trusted."),
			row("Pinned", p.Previous.Fingerprint),
		)
	}

	return promptBox.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func parseDecision(answer string) (trust.Decision, bool) {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "p", "permanent", "permanently":
		return trust.DecisionTrustPermanently, true
	case "o", "once":
		return trust.DecisionTrustOnce, true
	case "d", "deny", "n", "no":
		return trust.DecisionDeny, true
	default:
		return trust.DecisionNone, false
	}
}

// answerPrompts asks on out and reads decisions from in until ctx is done. A
// closed input denies.
func answerPrompts(ctx context.Context, center *trust.PromptCenter, in io.Reader, out io.Writer) {
	reader := bufio.NewReader(in)

	for p := range center.Observe(ctx) {
		fmt.Fprintln(out, renderPrompt(p))

		decision := trust.DecisionDeny
		for {
			fmt.Fprint(out, "Trust (p)ermanently, (o)nce or (d)eny? ")

			answer, err := reader.ReadString('\n')
			if d, ok := parseDecision(answer); ok {
				decision = d

				break
			}
			if err != nil {
				break
			}
		}

		if !p.Resolve(decision) {
			log.Debug().
				Str("identity", p.Identity.ID()).
				Msg("Prompt was already settled")
		}
	}
}
