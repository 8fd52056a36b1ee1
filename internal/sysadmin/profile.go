package sysadmin

import (
	"bytes"
	"embed"
	"fmt"
	"sort"
	"strings"
	"text/template"

	"github.com/picklr-io/sysconverge/internal/ir"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.tmpl"))

type profileData struct {
	Name  string
	Home  string
	Email string
}

// RenderProfile assembles an account's profile: the header first, then the
// fragments by ascending Order (declaration order on ties), then the footer.
func RenderProfile(acct *ir.Account, home string) ([]byte, error) {
	data := profileData{Name: acct.Name, Home: home, Email: acct.Email}

	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, "header.tmpl", data); err != nil {
		return nil, fmt.Errorf("render profile header for %s: %w", acct.Name, err)
	}

	fragments := make([]*ir.ProfileFragment, 0, len(acct.Profile))
	for _, f := range acct.Profile {
		if f != nil {
			fragments = append(fragments, f)
		}
	}
	sort.SliceStable(fragments, func(i, j int) bool {
		return fragments[i].Order < fragments[j].Order
	})
	for _, f := range fragments {
		buf.WriteString(f.Content)
		if !strings.HasSuffix(f.Content, "\n") {
			buf.WriteByte('\n')
		}
	}

	if err := templates.ExecuteTemplate(&buf, "footer.tmpl", data); err != nil {
		return nil, fmt.Errorf("render profile footer for %s: %w", acct.Name, err)
	}
	return buf.Bytes(), nil
}
