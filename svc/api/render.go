package api

import (
	"bytes"
	"html/template"

	"pobbin/pkg/domain"

	"github.com/pkg/errors"
)

var pages = template.Must(template.New("paste").Parse(`<!doctype html>
<html lang="en">
<head><meta charset="utf-8"><title>{{.Title}} - pobbin</title></head>
<body>
<h1>{{.Title}}</h1>
{{with .Subtitle}}<p>{{.}}</p>{{end}}
<nav>
<a href="{{.RawURL}}">raw</a>
<a href="{{.OpenURL}}">open in Path of Building</a>
{{with .EditURL}}<a href="{{.}}">edit</a>{{end}}
{{with .UserURL}}<a href="{{.}}">more builds</a>{{end}}
</nav>
<pre>{{.Content}}</pre>
</body>
</html>
`))

var _ = template.Must(pages.New("user").Parse(`<!doctype html>
<html lang="en">
<head><meta charset="utf-8"><title>{{.User}} - pobbin</title></head>
<body>
<h1>{{.User}}</h1>
{{if .Own}}<p>Your builds</p>{{end}}
<ul>
{{range .Pastes}}<li><a href="{{.URL}}">{{if .Title}}{{.Title}}{{else}}{{.ID}}{{end}}</a>{{with .AscendancyOrClass}} {{.}}{{end}}{{with .Version}} ({{.}}){{end}}</li>
{{else}}<li>no builds yet</li>
{{end}}</ul>
</body>
</html>
`))

type pastePage struct {
	Title    string
	Subtitle string
	Content  string
	RawURL   string
	OpenURL  template.URL
	EditURL  string
	UserURL  string
}

// renderPaste renders the view page. The edit link is only shown to the
// owner, which is why owners are served from their own cache tier.
func renderPaste(id domain.PasteID, sp *domain.StoredPaste, viewer domain.User) ([]byte, error) {
	page := pastePage{
		Title:   id.String(),
		Content: sp.Content,
		RawURL:  domain.RawURL(id),
		OpenURL: template.URL(domain.OpenURL(id)),
	}
	if m := sp.Metadata; m != nil && m.Title != "" {
		page.Title = m.Title
		page.Subtitle = m.AscendancyOrClass
	}
	if up, ok := id.(domain.UserPaste); ok {
		page.UserURL = domain.UserURL(up.User)
		if viewer != "" && up.User.Equal(viewer) {
			page.EditURL = domain.EditURL(up)
		}
	}
	return execute("paste", page)
}

type userPage struct {
	User   string
	Own    bool
	Pastes []domain.PasteSummary
}

func renderUser(u domain.User, list []domain.PasteSummary, viewer domain.User) ([]byte, error) {
	return execute("user", userPage{
		User:   string(u),
		Own:    viewer != "" && u.Equal(viewer),
		Pastes: list,
	})
}

func execute(name string, data any) ([]byte, error) {
	var buf bytes.Buffer
	if err := pages.ExecuteTemplate(&buf, name, data); err != nil {
		return nil, errors.Wrapf(err, "render %s", name)
	}
	return buf.Bytes(), nil
}
