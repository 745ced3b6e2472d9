package classification

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/subscription-copilot/internal/extract"
	"github.com/Veraticus/subscription-copilot/internal/model"
)

func newTestClassifier(t *testing.T) *EmailClassifier {
	t.Helper()
	h, err := DefaultHeuristics()
	require.NoError(t, err)
	return NewEmailClassifier(h)
}

func TestEmailClassifier_Classify(t *testing.T) {
	tests := []struct {
		name           string
		msg            extract.Message
		wantReason     RejectReason
		wantName       string
		wantPrice      string // "" means no price
		wantCurrency   string
		wantCycle      model.Cycle
		wantCategory   string
		wantConfidence float64
		wantSuspicious bool
	}{
		{
			name: "known sender receipt",
			msg: extract.Message{
				From:    "Netflix <info@mailer.netflix.com>",
				Subject: "Your Netflix receipt",
				Body:    "Your monthly membership was charged €12,99.",
			},
			wantName:       "Netflix",
			wantPrice:      "12.99",
			wantCurrency:   "€",
			wantCycle:      model.CycleMonthly,
			wantCategory:   "Entertainment",
			wantConfidence: 100,
		},
		{
			name: "blacklisted sender with every other signal",
			msg: extract.Message{
				From:    "Spotify <no-reply@spotify.com>",
				Subject: "Your receipt",
				Body:    "Premium subscription renewed, charged €10.99",
			},
			wantReason: RejectBlacklisted,
		},
		{
			name: "mailer daemon in upper case",
			msg: extract.Message{
				From:    "MAILER-DAEMON@mx.example.com",
				Subject: "Undelivered invoice",
				Body:    "€5.00",
			},
			wantReason: RejectBlacklisted,
		},
		{
			name: "payment processor is suspicious",
			msg: extract.Message{
				From:    "Acme Tools via PayPal <service@paypal.com>",
				Subject: "Receipt for your payment",
				Body:    "You sent a payment of $15.00 USD to Acme Tools.",
			},
			wantName:       "Paypal",
			wantPrice:      "15",
			wantCurrency:   "$",
			wantCycle:      model.CycleMonthly,
			wantCategory:   "Other",
			wantConfidence: 30,
			wantSuspicious: true,
		},
		{
			name: "suspicious penalty floors above zero",
			msg: extract.Message{
				From:    "Promo <deals@shopmail.com>",
				Subject: "Big sale",
				Body:    "Now only €19.99",
			},
			wantName:       "Shopmail",
			wantPrice:      "19.99",
			wantCurrency:   "€",
			wantCycle:      model.CycleMonthly,
			wantCategory:   "Other",
			wantConfidence: SuspiciousFloor,
			wantSuspicious: true,
		},
		{
			name: "generic mailbox domain",
			msg: extract.Message{
				From:    "someone@gmail.com",
				Subject: "Invoice",
				Body:    "€9.99",
			},
			wantReason: RejectGenericName,
		},
		{
			name: "unknown sender without keyword or price",
			msg: extract.Message{
				From:    "Jane <jane@acme-widgets.com>",
				Subject: "Lunch?",
				Body:    "See you at noon",
			},
			wantReason: RejectNoPrice,
		},
		{
			name: "short name without signal",
			msg: extract.Message{
				From:    "X <x@ab.io>",
				Subject: "hi",
				Body:    "hello €5.00",
			},
			wantReason: RejectNoSignal,
		},
		{
			name: "out of band price without billing language",
			msg: extract.Message{
				From:    "Cloudhost <hello@cloudhost.io>",
				Subject: "Upgrade",
				Body:    "Upgrade now for $250.00",
			},
			wantReason: RejectNoPrice,
		},
		{
			name: "smallest sane price when billing",
			msg: extract.Message{
				From:    "Cloudhost <billing@cloudhost.example>",
				Subject: "Invoice",
				Body:    "You were charged $250.00 and $120.00",
			},
			wantName:       "Cloudhost",
			wantPrice:      "120",
			wantCurrency:   "$",
			wantCycle:      model.CycleMonthly,
			wantCategory:   "Other",
			wantConfidence: 60,
		},
		{
			name: "billing email above ceiling keeps no price",
			msg: extract.Message{
				From:    "Cloudhost <billing@cloudhost.example>",
				Subject: "Invoice",
				Body:    "Amount charged: €900.00",
			},
			wantName:       "Cloudhost",
			wantCurrency:   "€",
			wantCycle:      model.CycleMonthly,
			wantCategory:   "Other",
			wantConfidence: 40,
		},
		{
			name: "yearly plan",
			msg: extract.Message{
				From:    "GitHub <billing@github.com>",
				Subject: "Payment receipt",
				Body:    "Pro plan $84.00/year",
			},
			wantName:       "GitHub",
			wantPrice:      "84",
			wantCurrency:   "$",
			wantCycle:      model.CycleYearly,
			wantCategory:   "Developer Tools",
			wantConfidence: 100,
		},
		{
			name: "display name fallback",
			msg: extract.Message{
				From:    "Acme Cloud",
				Subject: "Your subscription",
				Body:    "Thanks for subscribing, €4.99 per month.",
			},
			wantName:       "Acme",
			wantPrice:      "4.99",
			wantCurrency:   "€",
			wantCycle:      model.CycleMonthly,
			wantCategory:   "Other",
			wantConfidence: 50,
		},
	}

	c := newTestClassifier(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cand, reason := c.Classify(tt.msg, "msg-1")
			assert.Equal(t, tt.wantReason, reason)
			if tt.wantReason != Accepted {
				assert.Nil(t, cand)
				return
			}

			require.NotNil(t, cand)
			assert.Equal(t, tt.wantName, cand.Name)
			if tt.wantPrice == "" {
				assert.False(t, cand.Price.Valid)
			} else {
				require.True(t, cand.Price.Valid)
				assert.Equal(t, tt.wantPrice, cand.Price.Decimal.String())
			}
			assert.Equal(t, tt.wantCurrency, cand.Currency)
			assert.Equal(t, tt.wantCycle, cand.Cycle)
			assert.Equal(t, tt.wantCategory, cand.Category)
			assert.InDelta(t, tt.wantConfidence, cand.Confidence, 1e-9)
			assert.Equal(t, tt.wantSuspicious, cand.Suspicious)
			assert.Equal(t, model.SourceEmail, cand.Source)
			assert.Equal(t, "msg-1", cand.SourceRef)
		})
	}
}

func TestEmailClassifier_PriceCeiling(t *testing.T) {
	tests := []struct {
		body      string
		wantPrice string // "" means no price
	}{
		{"You were charged $499.99", "499.99"},
		{"You were charged $500.00", ""},
		{"You were charged $500.01", ""},
	}

	c := newTestClassifier(t)
	for _, tt := range tests {
		t.Run(tt.body, func(t *testing.T) {
			cand, reason := c.Classify(extract.Message{
				From:    "Acme <billing@acmecloud.io>",
				Subject: "Your invoice",
				Body:    tt.body,
			}, "ref")
			require.Equal(t, Accepted, reason)
			require.NotNil(t, cand)
			if tt.wantPrice == "" {
				assert.False(t, cand.Price.Valid)
				return
			}
			require.True(t, cand.Price.Valid)
			assert.Equal(t, tt.wantPrice, cand.Price.Decimal.String())
		})
	}
}

func TestEmailClassifier_BlacklistIsAbsolute(t *testing.T) {
	c := newTestClassifier(t)
	markers := []string{"mailer-daemon", "postmaster", "no-reply", "noreply", "donotreply", "do-not-reply", "bounce"}
	subjects := []string{"Your Netflix receipt", "Invoice #123", "", "Subscription renewed"}

	for _, marker := range markers {
		for _, subject := range subjects {
			msg := extract.Message{
				From:    "Netflix <" + marker + "@netflix.com>",
				Subject: subject,
				Body:    "Your monthly subscription payment of €9.99 was charged.",
			}
			cand, reason := c.Classify(msg, "ref")
			assert.Nil(t, cand, "marker %s subject %q", marker, subject)
			assert.Equal(t, RejectBlacklisted, reason)
		}
	}
}

func TestEmailClassifier_ConfidenceScale(t *testing.T) {
	c := newTestClassifier(t)
	froms := []string{
		"Netflix <info@netflix.com>",
		"Stripe <receipts@stripe.com>",
		"Acme <billing@acme.dev>",
		"Newsletter <news@letters.example>",
	}
	bodies := []string{"", "€9.99", "invoice $4.00", "annual plan £49.00 receipt"}

	for _, from := range froms {
		for _, body := range bodies {
			cand, _ := c.Classify(extract.Message{From: from, Subject: "Receipt", Body: body}, "ref")
			if cand == nil {
				continue
			}
			assert.GreaterOrEqual(t, cand.Confidence, 0.0)
			assert.LessOrEqual(t, cand.Confidence, model.EmailConfidenceMax)
		}
	}
}

func TestEmailClassifier_SeenAt(t *testing.T) {
	c := newTestClassifier(t)
	cand, reason := c.Classify(extract.Message{
		From:    "Spotify <info@spotify.com>",
		Subject: "Receipt",
		Date:    "Mon, 3 Mar 2025 10:00:00 +0000",
		Body:    "€10.99",
	}, "ref")
	require.Equal(t, Accepted, reason)
	assert.True(t, cand.SeenAt.Equal(time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC)))
}

func TestEmailClassifier_ClassifyEmail(t *testing.T) {
	c := newTestClassifier(t)
	raw := &model.RawEmail{
		ID: "abc",
		Headers: []model.Header{
			{Name: "From", Value: "Dropbox <billing@dropbox.com>"},
			{Name: "Subject", Value: "Your Dropbox receipt"},
		},
		Body: base64.URLEncoding.EncodeToString([]byte("Dropbox Plus: €11.99 billed monthly")),
	}

	cand, reason, err := c.ClassifyEmail(raw)
	require.NoError(t, err)
	require.Equal(t, Accepted, reason)
	assert.Equal(t, "Dropbox", cand.Name)
	assert.Equal(t, "Cloud Storage", cand.Category)
	assert.Equal(t, "abc", cand.SourceRef)

	raw.Body = "%%%"
	_, _, err = c.ClassifyEmail(raw)
	assert.Error(t, err)
}

func TestDomainLabel(t *testing.T) {
	tests := []struct {
		address string
		want    string
	}{
		{"billing@mail.example.com", "example"},
		{"news@bbc.co.uk", "bbc"},
		{"a@example.org", "example"},
		{"root@localhost", "localhost"},
		{"no-at-sign", ""},
	}

	for _, tt := range tests {
		t.Run(tt.address, func(t *testing.T) {
			assert.Equal(t, tt.want, domainLabel(tt.address))
		})
	}
}

func TestSplitFrom(t *testing.T) {
	tests := []struct {
		from        string
		wantAddress string
		wantDisplay string
	}{
		{"Netflix <info@netflix.com>", "info@netflix.com", "Netflix"},
		{"info@netflix.com", "info@netflix.com", ""},
		{"Acme Cloud", "", "Acme Cloud"},
		{"Broken <name@host", "name@host", "Broken"},
	}

	for _, tt := range tests {
		t.Run(tt.from, func(t *testing.T) {
			address, display := splitFrom(tt.from)
			assert.Equal(t, tt.wantAddress, address)
			assert.Equal(t, tt.wantDisplay, display)
		})
	}
}

func TestHeuristics_Category(t *testing.T) {
	h, err := DefaultHeuristics()
	require.NoError(t, err)

	tests := []struct {
		name string
		want string
	}{
		{"Netflix", "Entertainment"},
		{"GitHub Copilot", "AI Tools"},
		{"GitHub", "Developer Tools"},
		{"Notion", "Productivity"},
		{"Figma", "Design"},
		{"iCloud", "Cloud Storage"},
		{"Acme", "Other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, h.category(tt.name))
		})
	}
}

func TestLoadTables(t *testing.T) {
	doc := `
known_senders: [acme]
canonical_names:
  acme: ACME Corp
`
	h, err := LoadTables(strings.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, []string{"acme"}, h.KnownSenders())
	assert.Equal(t, "Netflix", h.displayName("netflix"), "defaults are merged")

	c := NewEmailClassifier(h)
	cand, reason := c.Classify(extract.Message{
		From:    "Acme <billing@acme.io>",
		Subject: "Receipt",
		Body:    "$5.00",
	}, "ref")
	require.Equal(t, Accepted, reason)
	assert.Equal(t, "ACME Corp", cand.Name)
	assert.InDelta(t, 100.0, cand.Confidence, 1e-9)

	_, err = LoadTables(strings.NewReader(""))
	assert.NoError(t, err)

	_, err = LoadTables(strings.NewReader("plausible_min: 200\nplausible_max: 100\n"))
	assert.Error(t, err)

	_, err = LoadTables(strings.NewReader("categories:\n  - category: Bad\n    regex: '[oops'\n"))
	assert.ErrorContains(t, err, "failed to compile category")

	_, err = LoadTables(strings.NewReader("known_senders: {"))
	assert.Error(t, err)
}
