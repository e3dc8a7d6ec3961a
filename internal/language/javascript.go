package language

type javascriptAdapter struct{}

func (javascriptAdapter) Language() Language { return JavaScript }
func (javascriptAdapter) Image() string      { return "fundi-node:latest" }

func (javascriptAdapter) Prepare(dir, source string) (*Unit, error) {
	const name = "main.js"
	if err := writeSource(dir, name, source); err != nil {
		return nil, err
	}
	return &Unit{Language: JavaScript, Dir: dir, File: name}, nil
}

func (javascriptAdapter) CompileCommand(u *Unit) []string { return nil }

func (javascriptAdapter) RunCommand(u *Unit) []string {
	return []string{"node", u.File}
}
