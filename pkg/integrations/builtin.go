// Package integrations lists the built-in faneX-ID integration plugins.
package integrations

import (
	"fmt"

	"github.com/fanex-id/integrations/pkg/integration"
	"github.com/fanex-id/integrations/pkg/integrations/aiassistant"
	"github.com/fanex-id/integrations/pkg/integrations/docker"
	"github.com/fanex-id/integrations/pkg/integrations/esxi"
	"github.com/fanex-id/integrations/pkg/integrations/homeassistant"
	"github.com/fanex-id/integrations/pkg/integrations/jira"
	"github.com/fanex-id/integrations/pkg/integrations/mattermost"
	"github.com/fanex-id/integrations/pkg/integrations/msgraph"
	"github.com/fanex-id/integrations/pkg/integrations/msgraphexchange"
	"github.com/fanex-id/integrations/pkg/integrations/slack"
	"github.com/fanex-id/integrations/pkg/integrations/smtp"
	"github.com/fanex-id/integrations/pkg/integrations/telegram"
	"github.com/fanex-id/integrations/pkg/integrations/webhook"
)

// Builtin returns a factory for every bundled plugin.
func Builtin() []integration.Factory {
	return []integration.Factory{
		aiassistant.Factory(),
		docker.Factory(),
		esxi.Factory(),
		homeassistant.Factory(),
		jira.Factory(),
		mattermost.Factory(),
		msgraph.Factory(),
		msgraphexchange.Factory(),
		slack.Factory(),
		smtp.Factory(),
		telegram.Factory(),
		webhook.Factory(),
	}
}

// Select returns the factories for domains plus everything they depend on,
// in the order of all. Domains without a factory are returned as unknown.
func Select(all []integration.Factory, domains []string) (selected []integration.Factory, unknown []string, err error) {
	byDomain := make(map[string]integration.Factory, len(all))
	deps := make(map[string][]string, len(all))
	order := make([]string, 0, len(all))
	for _, f := range all {
		m, err := integration.ParseManifest(f.Manifest)
		if err != nil {
			return nil, nil, fmt.Errorf("integration %s: %w", f.Domain, err)
		}
		byDomain[m.Domain] = f
		deps[m.Domain] = m.DependsOn()
		order = append(order, m.Domain)
	}

	want := make(map[string]bool)
	var visit func(string)
	visit = func(domain string) {
		if want[domain] {
			return
		}
		want[domain] = true
		for _, dep := range deps[domain] {
			visit(dep)
		}
	}
	for _, domain := range domains {
		if _, ok := byDomain[domain]; !ok {
			unknown = append(unknown, domain)
			continue
		}
		visit(domain)
	}

	for i, domain := range order {
		if want[domain] {
			selected = append(selected, all[i])
		}
	}
	return selected, unknown, nil
}
