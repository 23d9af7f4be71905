package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/a-h/templ"

	"github.com/asascience/matos/internal/templates/layouts"
)

func loginPage(csrf, email, errMsg string) templ.Component {
	return layouts.Base("Sign in", layouts.Markup(func(_ context.Context, b *strings.Builder) {
		b.WriteString(`<h1>Sign in</h1>`)
		if errMsg != "" {
			fmt.Fprintf(b, `<div class="alert">%s</div>`, templ.EscapeString(errMsg))
		}
		b.WriteString(`<form method="post" action="/login">`)
		b.WriteString(layouts.CSRFField(csrf))
		b.WriteString(layouts.Input("Email", "email", "email", email, ""))
		b.WriteString(layouts.Input("Password", "password", "password", "", ""))
		b.WriteString(`<button type="submit">Sign in</button></form><p><a href="/register">Request an account</a></p>`)
	}))
}

func registerPage(csrf string, req *RegisterRequest, errs map[string]string) templ.Component {
	roles := make([]string, len(RegisterableRoles))
	for i, r := range RegisterableRoles {
		roles[i] = string(r)
	}
	return layouts.Base("Register", layouts.Markup(func(_ context.Context, b *strings.Builder) {
		b.WriteString(`<h1>Request an account</h1><form method="post" action="/register">`)
		b.WriteString(layouts.CSRFField(csrf))
		b.WriteString(layouts.Input("Name", "name", "text", req.Name, errs["name"]))
		b.WriteString(layouts.Input("Email", "email", "email", req.Email, errs["email"]))
		b.WriteString(layouts.Input("Organization", "organization", "text", req.Organization, errs["organization"]))
		b.WriteString(layouts.Select("Requested role", "requested_role", roles, req.RequestedRole, errs["requested_role"]))
		b.WriteString(`<ul class="hint">`)
		for _, r := range RegisterableRoles {
			fmt.Fprintf(b, `<li><strong>%s</strong>: %s</li>`, r, templ.EscapeString(r.Description()))
		}
		b.WriteString(`</ul>`)
		b.WriteString(layouts.Input("Phone", "phone", "tel", req.Phone, ""))
		b.WriteString(layouts.Input("Address", "address", "text", req.Address, ""))
		b.WriteString(layouts.Input("City", "city", "text", req.City, ""))
		b.WriteString(layouts.Input("State", "state", "text", req.State, ""))
		b.WriteString(layouts.Input("Zip", "zip", "text", req.Zip, ""))
		b.WriteString(layouts.Input("Country", "country", "text", req.Country, ""))
		b.WriteString(layouts.Input("Password", "password", "password", "", errs["password"]))
		b.WriteString(layouts.Input("Confirm password", "confirm", "password", "", errs["confirm"]))
		checked := ""
		if req.Newsletter {
			checked = " checked"
		}
		fmt.Fprintf(b, `<label><input type="checkbox" name="newsletter" value="true"%s> Receive the newsletter</label>`, checked)
		b.WriteString(`<button type="submit">Register</button></form>`)
	}))
}

func pendingApprovalPage(u *User) templ.Component {
	return layouts.Base("Registration received", layouts.Markup(func(_ context.Context, b *strings.Builder) {
		fmt.Fprintf(b, `<h1>Thanks, %s</h1><p>Your request for the <strong>%s</strong> role has been received. `+
			`You will be able to sign in once an administrator approves your account.</p>`,
			templ.EscapeString(u.Name), templ.EscapeString(string(u.RequestedRole)))
	}))
}

func usersPage(csrf string, users []User, total, page int) templ.Component {
	return layouts.Base("Users", layouts.Markup(func(_ context.Context, b *strings.Builder) {
		fmt.Fprintf(b, `<h1>Users</h1><p>%d accounts. <a href="?pending=1">Pending only</a></p>`, total)
		b.WriteString(`<table class="table"><thead><tr><th>Name</th><th>Email</th><th>Organization</th>` +
			`<th>Role</th><th>Requested</th><th></th></tr></thead><tbody>`)
		for _, u := range users {
			fmt.Fprintf(b, `<tr id="%s"><td>%s</td><td>%s</td><td>%s</td><td>%s</td><td>%s</td><td>`,
				templ.EscapeString(u.DTRowID()), templ.EscapeString(u.Name), templ.EscapeString(u.Email),
				templ.EscapeString(u.Organization), u.Role, u.RequestedRole)
			if !u.Approved {
				fmt.Fprintf(b, `<form method="post" action="/admin/users/%s/approve">%s<button type="submit">Approve</button></form>`,
					templ.EscapeString(u.ID), layouts.CSRFField(csrf))
			}
			b.WriteString(`</td></tr>`)
		}
		b.WriteString(`</tbody></table>`)
		if page > 1 {
			fmt.Fprintf(b, `<a href="?page=%d">Previous</a> `, page-1)
		}
		if page*usersPerPage < total {
			fmt.Fprintf(b, `<a href="?page=%d">Next</a>`, page+1)
		}
	}))
}
