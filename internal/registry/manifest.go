package registry

import "context"

// The built-in module table. Discovery is a data structure: every shipped
// module appears here with its loader and manifest, and tenant-installed
// modules are registered at startup from the same shape.

type staticView struct {
	id    string
	title string
}

func (v staticView) ModuleID() string { return v.id }
func (v staticView) Title() string    { return v.title }

func builtin(id, name, description string) Entry {
	return Entry{
		ID: id,
		Load: func(ctx context.Context) (View, error) {
			return staticView{id: id, title: name}, nil
		},
		Manifest: Manifest{ID: id, Name: name, Description: description},
	}
}

// BuiltinEntries returns the console's shipped module table.
func BuiltinEntries() []Entry {
	return []Entry{
		builtin("conversation-hub", "Conversations", "Live chat conversation hub"),
		builtin("agents", "Agents", "Agent directory and presence"),
		builtin("contacts", "Contacts", "Contact panels"),
		builtin("tickets", "Tickets", "Ticket queue"),
		builtin("sms", "SMS", "SMS campaigns and threads"),
		builtin("mail", "Mail", "Email threads"),
		builtin("reports", "Reports", "Reporting dashboards"),
	}
}

// RegisterBuiltins installs the shipped module table into r.
func RegisterBuiltins(r *Registry) error {
	for _, entry := range BuiltinEntries() {
		if err := r.Register(entry); err != nil {
			return err
		}
	}
	return nil
}
