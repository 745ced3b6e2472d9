package classification

// DefaultTables returns the built-in heuristic tables.
func DefaultTables() Tables {
	return Tables{
		// More specific identifiers precede the ones they contain or overlap
		// ("aws" before "amazon", "youtube" before "google").
		KnownSenders: []string{
			"netflix", "spotify", "youtube", "disney", "hbo", "apple",
			"aws", "amazon", "adobe", "microsoft", "google", "dropbox",
			"notion", "figma", "slack", "zoom", "openai", "anthropic",
			"github", "vercel", "heroku", "cloudflare", "digitalocean",
			"headspace", "calm", "duolingo", "strava", "peloton", "nytimes",
			"medium", "substack", "patreon", "twitch", "crunchyroll",
			"audible", "canva", "grammarly", "todoist", "evernote",
			"lastpass", "1password",
		},
		CanonicalNames: map[string]string{
			"netflix":      "Netflix",
			"spotify":      "Spotify",
			"youtube":      "YouTube Premium",
			"disney":       "Disney+",
			"hbo":          "HBO Max",
			"aws":          "AWS",
			"amazon":       "Amazon Prime",
			"microsoft":    "Microsoft 365",
			"google":       "Google One",
			"icloud":       "iCloud",
			"openai":       "OpenAI",
			"github":       "GitHub",
			"digitalocean": "DigitalOcean",
			"nytimes":      "The New York Times",
			"lastpass":     "LastPass",
			"1password":    "1Password",
		},
		Blacklist: []string{
			"mailer-daemon", "postmaster", "no-reply", "noreply",
			"donotreply", "do-not-reply", "bounce",
		},
		SuspiciousMarkers: []string{
			"paypal", "stripe", "paddle", "gumroad", "fastspring",
			"newsletter", "marketing", "promo", "mailchimp", "sendgrid",
			"mailgun", "unsubscribe",
		},
		GenericTerms: []string{
			"mail", "email", "e-mail", "support", "noreply", "no-reply",
			"accounts", "account", "team", "info", "hello", "help",
			"contact", "notifications", "notification", "billing",
			"service", "admin", "news", "gmail", "googlemail", "outlook",
			"hotmail", "yahoo", "proton", "protonmail",
		},
		Keywords: []string{
			"invoice", "receipt", "payment", "subscription", "billing",
			"facture", "reçu", "paiement", "abonnement",
			"rechnung", "zahlung", "quittung",
			"monthly", "annual", "yearly", "renew", "membership",
		},
		BillingKeywords: []string{
			"receipt", "invoice", "charged", "billed", "payment received",
			"your payment", "amount due", "auto-renew", "renewal",
			"facture", "reçu", "rechnung", "quittung", "zahlungsbestätigung",
		},
		ReceiptSubject: `\b(?:invoice|receipt|facture|rechnung|reçu|quittung)`,
		YearlyPattern:  `\b(?:annual|annually|yearly|jährlich|jahresabo|annuel|par an\b|per year\b)|/\s?(?:year|yr)\b`,
		Categories: []CategoryRule{
			{Category: "Entertainment", Priority: 60, Regex: `netflix|spotify|disney|hbo|youtube|twitch|crunchyroll|audible|apple music|prime|deezer|paramount`},
			// Ahead of developer tools so "GitHub Copilot" is an AI tool.
			{Category: "AI Tools", Priority: 50, Regex: `openai|chatgpt|anthropic|claude|copilot|midjourney|perplexity`},
			{Category: "Developer Tools", Priority: 40, Regex: `github|gitlab|vercel|heroku|netlify|jetbrains|digitalocean|cloudflare|\baws\b`},
			{Category: "Productivity", Priority: 30, Regex: `notion|slack|zoom|todoist|evernote|microsoft|office|grammarly|1password|lastpass`},
			{Category: "Design", Priority: 20, Regex: `figma|adobe|canva|sketch`},
			{Category: "Cloud Storage", Priority: 10, Regex: `dropbox|icloud|google one|onedrive|backblaze|\bbox\b`},
		},
		DefaultCurrency: "€",
		DefaultCategory: "Other",
		UnknownName:     "Unknown",
		PriceCeiling:    500,
		PlausibleMin:    2,
		PlausibleMax:    100,
	}
}
