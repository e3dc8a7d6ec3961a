package language

import "regexp"

// publicClassRe extracts the public class name, which dictates both the
// source file name and the entry point javac/java expect.
var publicClassRe = regexp.MustCompile(`(?m)public\s+(?:final\s+|abstract\s+)?class\s+([A-Za-z_$][A-Za-z0-9_$]*)`)

type javaAdapter struct{}

func (javaAdapter) Language() Language { return Java }
func (javaAdapter) Image() string      { return "fundi-java:latest" }

func (javaAdapter) Prepare(dir, source string) (*Unit, error) {
	class := "Main"
	if m := publicClassRe.FindStringSubmatch(source); m != nil {
		class = m[1]
	}
	name := class + ".java"
	if err := writeSource(dir, name, source); err != nil {
		return nil, err
	}
	return &Unit{Language: Java, Dir: dir, File: name, Main: class}, nil
}

func (javaAdapter) CompileCommand(u *Unit) []string {
	return []string{"javac", u.File}
}

func (javaAdapter) RunCommand(u *Unit) []string {
	return []string{"java", "-cp", ".", u.Main}
}
