package ports

// Templater defines the interface for rendering task command templates.
//
//go:generate mockgen -source=templater.go -destination=mocks/mock_templater.go -package=mocks
type Templater interface {
	// Render substitutes argument placeholders in the command template.
	// It returns an error if the template references an argument that is
	// not present in args.
	Render(template string, args map[string]string) (string, error)
}
