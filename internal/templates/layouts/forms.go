package layouts

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/a-h/templ"
)

// Markup builds a component from HTML written by fn. fn is responsible
// for escaping every user value it writes.
func Markup(fn func(ctx context.Context, b *strings.Builder)) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var b strings.Builder
		fn(ctx, &b)
		_, err := io.WriteString(w, b.String())
		return err
	})
}

// CSRFField is the hidden input carrying the double-submit token.
func CSRFField(token string) string {
	return fmt.Sprintf(`<input type="hidden" name="csrf_token" value="%s">`, templ.EscapeString(token))
}

// Input renders a labelled input with its validation message.
func Input(label, name, typ, value, errMsg string) string {
	var b strings.Builder
	class := "field"
	if errMsg != "" {
		class = "field field-error"
	}
	fmt.Fprintf(&b, `<div class="%s"><label for="%s">%s</label><input id="%s" name="%s" type="%s" value="%s">`,
		class, name, templ.EscapeString(label), name, name, typ, templ.EscapeString(value))
	if errMsg != "" {
		fmt.Fprintf(&b, `<span class="error">%s</span>`, templ.EscapeString(errMsg))
	}
	b.WriteString(`</div>`)
	return b.String()
}

// TextArea renders a labelled textarea with its validation message.
func TextArea(label, name, value, errMsg string) string {
	var b strings.Builder
	fmt.Fprintf(&b, `<div class="field"><label for="%s">%s</label><textarea id="%s" name="%s">%s</textarea>`,
		name, templ.EscapeString(label), name, name, templ.EscapeString(value))
	if errMsg != "" {
		fmt.Fprintf(&b, `<span class="error">%s</span>`, templ.EscapeString(errMsg))
	}
	b.WriteString(`</div>`)
	return b.String()
}

// Select renders a labelled select; options are shown as given.
func Select(label, name string, options []string, selected, errMsg string) string {
	var b strings.Builder
	fmt.Fprintf(&b, `<div class="field"><label for="%s">%s</label><select id="%s" name="%s"><option value=""></option>`,
		name, templ.EscapeString(label), name, name)
	for _, o := range options {
		sel := ""
		if o == selected {
			sel = " selected"
		}
		fmt.Fprintf(&b, `<option value="%s"%s>%s</option>`, templ.EscapeString(o), sel, templ.EscapeString(o))
	}
	b.WriteString(`</select>`)
	if errMsg != "" {
		fmt.Fprintf(&b, `<span class="error">%s</span>`, templ.EscapeString(errMsg))
	}
	b.WriteString(`</div>`)
	return b.String()
}

// ErrorSummary renders a list of field errors, sorted by the caller.
func ErrorSummary(messages []string) string {
	if len(messages) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(`<div class="errors"><ul>`)
	for _, m := range messages {
		fmt.Fprintf(&b, `<li>%s</li>`, templ.EscapeString(m))
	}
	b.WriteString(`</ul></div>`)
	return b.String()
}
