package collab

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/recondeck/recondeck/internal/record"
	"github.com/recondeck/recondeck/internal/transport"
)

// TechDetector fingerprints a target from its response headers and body
// markers.
type TechDetector struct {
	client transport.Client
}

// NewTechDetector builds a TechDetector over the shared transport client.
func NewTechDetector(client transport.Client) *TechDetector {
	return &TechDetector{client: client}
}

// bodyMarkers map a lowercase substring of the page body to a technology.
var bodyMarkers = []struct {
	marker string
	tech   record.Technology
}{
	{"wp-content", record.Technology{Name: "WordPress", Category: "cms"}},
	{"wp-includes", record.Technology{Name: "WordPress", Category: "cms"}},
	{"/sites/default/files", record.Technology{Name: "Drupal", Category: "cms"}},
	{"joomla", record.Technology{Name: "Joomla", Category: "cms"}},
	{"/_next/static", record.Technology{Name: "Next.js", Category: "framework"}},
	{"__nuxt", record.Technology{Name: "Nuxt", Category: "framework"}},
	{"ng-version", record.Technology{Name: "Angular", Category: "framework"}},
	{"data-reactroot", record.Technology{Name: "React", Category: "library"}},
	{"jquery", record.Technology{Name: "jQuery", Category: "library"}},
	{"bootstrap", record.Technology{Name: "Bootstrap", Category: "library"}},
}

// Detect fetches the target page once and reports every matched
// technology. An unreachable target is an error; a page with no matches
// yields an empty slice.
func (d *TechDetector) Detect(ctx context.Context, url string) ([]record.Technology, error) {
	resp, err := d.client.Do(ctx, &transport.Request{Method: http.MethodGet, URL: url})
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", url, err)
	}

	techs := []record.Technology{}
	seen := map[string]bool{}
	add := func(t record.Technology) {
		if !seen[t.Name] {
			seen[t.Name] = true
			techs = append(techs, t)
		}
	}

	if server := resp.Headers.Get("Server"); server != "" {
		add(fromProduct(server, "web server"))
	}
	if powered := resp.Headers.Get("X-Powered-By"); powered != "" {
		add(fromProduct(powered, "language"))
	}
	if resp.Headers.Get("X-Drupal-Cache") != "" {
		add(record.Technology{Name: "Drupal", Category: "cms"})
	}
	for _, c := range resp.Headers.Values("Set-Cookie") {
		lc := strings.ToLower(c)
		switch {
		case strings.HasPrefix(lc, "phpsessid"):
			add(record.Technology{Name: "PHP", Category: "language"})
		case strings.HasPrefix(lc, "laravel_session"):
			add(record.Technology{Name: "Laravel", Category: "framework"})
		case strings.HasPrefix(lc, "jsessionid"):
			add(record.Technology{Name: "Java", Category: "language"})
		}
	}

	body := strings.ToLower(resp.BodyString())
	for _, m := range bodyMarkers {
		if strings.Contains(body, m.marker) {
			add(m.tech)
		}
	}
	return techs, nil
}

// fromProduct splits a product token like "nginx/1.25.3" into name and
// version.
func fromProduct(token, category string) record.Technology {
	token = strings.TrimSpace(token)
	if i := strings.IndexByte(token, '/'); i > 0 {
		return record.Technology{Name: token[:i], Version: token[i+1:], Category: category}
	}
	return record.Technology{Name: token, Category: category}
}
