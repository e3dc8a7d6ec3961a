package language

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    Language
		wantErr bool
	}{
		{"python", Python, false},
		{"python3", Python, false},
		{"js", JavaScript, false},
		{"node", JavaScript, false},
		{"java", Java, false},
		{"c#", CSharp, false},
		{"ruby", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := Parse(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("Parse(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("Parse(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPythonAdapter_Prepare(t *testing.T) {
	dir := t.TempDir()
	a, err := ForLanguage(Python)
	if err != nil {
		t.Fatal(err)
	}

	unit, err := a.Prepare(dir, "print('hi')")
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if unit.File != "main.py" {
		t.Errorf("file = %q, want main.py", unit.File)
	}
	data, err := os.ReadFile(filepath.Join(dir, unit.File))
	if err != nil {
		t.Fatalf("reading materialized source: %v", err)
	}
	if string(data) != "print('hi')" {
		t.Errorf("source content = %q", data)
	}
	if cmd := a.CompileCommand(unit); cmd != nil {
		t.Errorf("python compile command = %v, want nil", cmd)
	}
	if got, want := a.RunCommand(unit), []string{"python3", "main.py"}; !reflect.DeepEqual(got, want) {
		t.Errorf("run command = %v, want %v", got, want)
	}
}

func TestJavaAdapter_ClassNameExtraction(t *testing.T) {
	tests := []struct {
		name   string
		source string
		class  string
	}{
		{"plain", "public class Calculator { }", "Calculator"},
		{"final", "public final class Worker {}", "Worker"},
		{"missing", "class notpublic {}", "Main"},
	}

	a, err := ForLanguage(Java)
	if err != nil {
		t.Fatal(err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			unit, err := a.Prepare(t.TempDir(), tt.source)
			if err != nil {
				t.Fatalf("Prepare: %v", err)
			}
			if unit.Main != tt.class {
				t.Errorf("main class = %q, want %q", unit.Main, tt.class)
			}
			if unit.File != tt.class+".java" {
				t.Errorf("file = %q, want %s.java", unit.File, tt.class)
			}
			if got, want := a.CompileCommand(unit), []string{"javac", tt.class + ".java"}; !reflect.DeepEqual(got, want) {
				t.Errorf("compile command = %v, want %v", got, want)
			}
		})
	}
}

func TestCSharpAdapter_CompileAndRun(t *testing.T) {
	a, err := ForLanguage(CSharp)
	if err != nil {
		t.Fatal(err)
	}
	unit, err := a.Prepare(t.TempDir(), "class Program { static void Main() {} }")
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if got, want := a.CompileCommand(unit), []string{"mcs", "-out:main.exe", "Main.cs"}; !reflect.DeepEqual(got, want) {
		t.Errorf("compile command = %v, want %v", got, want)
	}
	if got, want := a.RunCommand(unit), []string{"mono", "main.exe"}; !reflect.DeepEqual(got, want) {
		t.Errorf("run command = %v, want %v", got, want)
	}
}

func TestForLanguage_Unknown(t *testing.T) {
	if _, err := ForLanguage(Language("cobol")); err == nil {
		t.Fatal("expected error for unknown language")
	}
}
