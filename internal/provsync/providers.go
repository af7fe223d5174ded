package provsync

import (
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/pharmalink/provider-sync/internal/config"
	"github.com/pharmalink/provider-sync/internal/daterange"
	"github.com/pharmalink/provider-sync/internal/model"
	"github.com/pharmalink/provider-sync/internal/normalize"
	"github.com/pharmalink/provider-sync/internal/resilience"
	"github.com/pharmalink/provider-sync/internal/token"
	"github.com/pharmalink/provider-sync/internal/tree"
	"github.com/pharmalink/provider-sync/internal/upstream"
	"github.com/pharmalink/provider-sync/internal/upstream/cofarsur"
	"github.com/pharmalink/provider-sync/internal/upstream/kellerhoff"
	"github.com/pharmalink/provider-sync/internal/upstream/monroe"
	"github.com/pharmalink/provider-sync/internal/upstream/suizo"
)

// Cofarsur listing kinds.
const (
	KindAll     = "all"
	KindHeaders = "headers"
	KindItems   = "items"
	KindTaxes   = "taxes"
)

// Wiring is the result of Build.
type Wiring struct {
	Registry *Registry
	Tokens   *token.Manager
	Breakers *resilience.Breakers
}

// Build creates a gateway, token registration and policy for every enabled
// provider in cfg.
func Build(cfg *config.Config, tpls *normalize.Templates, now func() time.Time) (*Wiring, error) {
	if now == nil {
		now = time.Now
	}
	w := &Wiring{
		Tokens:   token.New(now),
		Breakers: resilience.NewBreakers(resilience.BreakerConfig{}),
	}

	var providers []*Provider
	for _, name := range cfg.EnabledProviders() {
		pc := cfg.Providers[name]
		p, auth, err := buildProvider(name, pc, w.Breakers)
		if err != nil {
			return nil, err
		}
		if p == nil {
			zap.L().Warn("provsync: no gateway for provider, skipping", zap.String("provider", name))
			continue
		}

		p.Template, _ = tpls.For(name)
		p.Timeout = pc.Timeout()
		p.Policy = daterange.Policy{
			MaxDays:        pc.MaxRangeDays,
			EnforceRecency: pc.EnforceRecency,
			Anchor:         daterange.Anchor(pc.DefaultAnchor),
			Now:            now,
		}

		matcher, err := upstream.NewAuthMatcher(pc.AuthPatterns)
		if err != nil {
			return nil, eris.Wrapf(err, "provsync: %s auth patterns", name)
		}
		w.Tokens.Register(name, auth, matcher, token.Settings{
			DefaultTTL:     pc.TokenDefaultTTL,
			SafetyMargin:   pc.TokenSafetyMargin,
			BearerOverride: pc.BearerToken,
		})
		providers = append(providers, p)
	}

	w.Registry = NewRegistry(providers...)
	return w, nil
}

func buildProvider(name string, pc config.ProviderConfig, breakers *resilience.Breakers) (*Provider, upstream.Authenticator, error) {
	client, err := upstream.NewClient(upstream.ClientOptions{
		Provider:  name,
		BaseURL:   pc.BaseURL,
		Timeout:   pc.Timeout(),
		RateLimit: pc.RateLimit,
		Burst:     pc.RateBurst,
		Breaker:   breakers.Configure(name, resilience.BreakerFromSettings(pc.BreakerThreshold, pc.BreakerReset())),
		UserAgent: "provider-sync",
	})
	if err != nil {
		return nil, nil, err
	}

	switch name {
	case monroe.Name:
		loc := time.UTC
		if pc.Timezone != "" {
			if loc, err = time.LoadLocation(pc.Timezone); err != nil {
				return nil, nil, eris.Wrapf(err, "provsync: monroe timezone %q", pc.Timezone)
			}
		}
		gw := monroe.New(client, pc.Version, loc)
		return &Provider{Name: name, Auth: gw, Lister: gw, Detail: gw}, gw, nil

	case suizo.Name:
		gw := suizo.New(client, pc.Endpoint, pc.Namespace)
		return &Provider{Name: name, Lister: gw, Kinds: suizo.Kinds(), Enrich: enrichSuizo}, nil, nil

	case cofarsur.Name:
		gw := cofarsur.New(client, pc.Endpoint)
		return &Provider{
			Name:   name,
			Lister: gw,
			Kinds:  []string{KindAll, KindHeaders, KindItems, KindTaxes},
			Enrich: enrichCofarsur,
		}, nil, nil

	case kellerhoff.Name:
		gw := kellerhoff.New(client)
		return &Provider{Name: name, Auth: gw, Products: gw}, gw, nil
	}
	return nil, nil, nil
}

// enrichSuizo maps the row list by item kind: totals rows are invoice
// headers, detail rows are line items and perception rows are tax lines.
func enrichSuizo(l *model.Listing, n tree.Node, kind string, tpl normalize.Template) {
	rows, ok := normalize.List(n, tpl)
	if !ok {
		return
	}
	switch kind {
	case suizo.KindTotals:
		l.Headers = normalize.Headers(rows, tpl)
	case suizo.KindDetails:
		l.Items = normalize.LineItems(rows, tpl)
	case suizo.KindPerceptions:
		l.Taxes = normalize.TaxLines(rows, tpl)
	}
}

func enrichCofarsur(l *model.Listing, n tree.Node, kind string, tpl normalize.Template) {
	if kind == KindAll || kind == KindHeaders {
		l.Headers = normalize.Headers(tree.List(tree.Get(n, cofarsur.SectionHeaders)), tpl)
	}
	if kind == KindAll || kind == KindItems {
		l.Items = normalize.LineItems(tree.List(tree.Get(n, cofarsur.SectionItems)), tpl)
		if l.Items == nil {
			l.Items = []model.LineItem{}
		}
	}
	if kind == KindAll || kind == KindTaxes {
		l.Taxes = normalize.TaxLines(tree.List(tree.Get(n, cofarsur.SectionTaxes)), tpl)
	}
}
