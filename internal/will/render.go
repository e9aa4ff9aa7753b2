package will

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"
)

const subjectFormat = "来自 %s 的遗嘱"

var bodyTmpl = template.Must(template.New("will").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>{{.Subject}}</title></head>
<body>
<h2>{{.CharacterName}} 的遗嘱</h2>
<p>{{.CharacterName}} 已经 {{.Elapsed}}（约{{.TotalHours}}小时）没有更新状态。</p>
<p>最后更新时间：{{.LastUpdated}}</p>
<div style="white-space: pre-wrap; border-left: 3px solid #999; padding-left: 12px;">{{.Content}}</div>
{{if .Link}}<p><a href="{{.Link}}">查看 {{.CharacterName}} 的状态页</a></p>{{end}}
</body>
</html>
`))

type mailView struct {
	Subject       string
	CharacterName string
	Content       string
	Elapsed       string
	TotalHours    int
	LastUpdated   string
	Link          string
}

// Subject returns the mail subject for a character.
func Subject(name string) string {
	return fmt.Sprintf(subjectFormat, name)
}

// FormatElapsed renders d as days, hours and minutes ("1天1小时0分钟").
// Leading zero units are omitted; anything under a minute is "0分钟".
func FormatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Minute)
	days := total / (24 * 60)
	hours := (total / 60) % 24
	minutes := total % 60

	var b strings.Builder
	if days > 0 {
		fmt.Fprintf(&b, "%d天", days)
	}
	if days > 0 || hours > 0 {
		fmt.Fprintf(&b, "%d小时", hours)
	}
	fmt.Fprintf(&b, "%d分钟", minutes)
	return b.String()
}

// DisplayLink joins the public base URL and a display code.
func DisplayLink(base, code string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" || code == "" {
		return ""
	}
	return base + "/d/" + code
}

func renderBody(v mailView) (string, error) {
	var buf bytes.Buffer
	if err := bodyTmpl.Execute(&buf, v); err != nil {
		return "", fmt.Errorf("render will body: %w", err)
	}
	return buf.String(), nil
}
