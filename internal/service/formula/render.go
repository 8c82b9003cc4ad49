package formula

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"text/template"
	"unicode"
	"unicode/utf8"
)

// formulaTemplate mirrors the layout Homebrew's own generators produce.
const formulaTemplate = `class {{ .ClassName }} < Formula
  desc "{{ ruby .Desc }}"
  homepage "{{ ruby .Homepage }}"
  version "{{ ruby .Version }}"

  url "{{ ruby .URL }}"{{ if .NoUnzip }},
      using: :nounzip{{ end }}
  sha256 "{{ .SHA256 }}"

  def install
    bin.install "{{ ruby .BinaryName }}"
  end
{{ if .PostInstall }}  def post_install
    system "/bin/chmod", "755", bin/"{{ ruby .BinaryName }}"
    system "/usr/bin/xattr", "-drs", "com.apple.quarantine", bin/"{{ ruby .BinaryName }}"
    system "/usr/bin/codesign", "--force", "--deep", "-s", "-", bin/"{{ ruby .BinaryName }}"
  end

{{ end }}  test do
    assert_match "{{ ruby .Token }}", shell_output("#{bin}/{{ ruby .BinaryName }} --version")
  end
end
`

var (
	//nolint:gochecknoglobals // Parsed once, read-only afterwards.
	formulaTmpl = template.Must(template.New("formula").
			Funcs(template.FuncMap{"ruby": rubyEscape}).
			Parse(formulaTemplate))

	//nolint:gochecknoglobals // Compiled once, read-only afterwards.
	classSeparators = regexp.MustCompile(`[-_\s]+`)
	//nolint:gochecknoglobals // Compiled once, read-only afterwards.
	kebabSeparators = regexp.MustCompile(`[\s_]+`)

	// errEmptyClassName is returned when a name has no usable characters.
	errEmptyClassName = errors.New("formula name must contain at least one alphanumeric character")
)

// Formula holds everything rendered into a formula file.
type Formula struct {
	ClassName  string
	Desc       string
	Homepage   string
	Version    string
	URL        string
	SHA256     string
	BinaryName string
	// NoUnzip installs the download as is.
	NoUnzip bool
	// PostInstall adds the chmod, quarantine and ad-hoc signing hook.
	PostInstall bool
}

// Token is the word the formula test expects in --version output.
func (f *Formula) Token() string {
	if fields := strings.Fields(f.BinaryName); len(fields) > 0 {
		return fields[0]
	}

	return f.BinaryName
}

// Render returns the formula text with trailing spaces removed and a final newline.
func Render(f *Formula) (string, error) {
	var buf bytes.Buffer
	if err := formulaTmpl.Execute(&buf, f); err != nil {
		return "", fmt.Errorf("render formula: %w", err)
	}

	lines := strings.Split(strings.Trim(buf.String(), "\n"), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRightFunc(line, unicode.IsSpace)
	}

	return strings.Join(lines, "\n") + "\n", nil
}

// ClassName turns "cruma-tunnel" into "CrumaTunnel".
func ClassName(name string) (string, error) {
	var builder strings.Builder

	for _, token := range classSeparators.Split(strings.TrimSpace(name), -1) {
		if token == "" {
			continue
		}

		first, size := utf8.DecodeRuneInString(token)
		builder.WriteRune(unicode.ToUpper(first))
		builder.WriteString(strings.ToLower(token[size:]))
	}

	if builder.Len() == 0 {
		return "", fmt.Errorf("%q: %w", name, errEmptyClassName)
	}

	return builder.String(), nil
}

// FileName turns a formula name into its kebab-case file name without extension.
func FileName(name string) string {
	tokens := kebabSeparators.Split(strings.ToLower(strings.TrimSpace(name)), -1)

	kept := tokens[:0]
	for _, token := range tokens {
		if token != "" {
			kept = append(kept, token)
		}
	}

	return strings.Join(kept, "-")
}

func rubyEscape(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`, "#{", `\#{`).Replace(s)
}
