package upload

import (
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/ooblik/drive-backend/internal/settings"
	"golang.org/x/text/unicode/norm"
)

var (
	whitespaceRun      = regexp.MustCompile(`\s+`)
	disallowedKeyChars = regexp.MustCompile(`[^a-zA-Z0-9./_-]`)
)

type keyInputs struct {
	Config    settings.NamingConfig
	Now       time.Time
	SpaceName string
	Filename  string
	UniqueID  string
	Random8   string
}

// buildStorageKey substitutes the fixed placeholder set into the configured
// schema and applies the configured normalization. Plain substring
// replacement only; there are no escaping or precedence rules.
func buildStorageKey(in keyInputs) string {
	basename := in.Filename
	ext := ""
	if idx := strings.LastIndex(in.Filename, "."); idx > 0 {
		basename = in.Filename[:idx]
		ext = in.Filename[idx+1:]
	}

	replacer := strings.NewReplacer(
		"{yyyy}", in.Now.Format("2006"),
		"{mm}", in.Now.Format("01"),
		"{dd}", in.Now.Format("02"),
		"{HH}", in.Now.Format("15"),
		"{ii}", in.Now.Format("04"),
		"{ss}", in.Now.Format("05"),
		"{uuid}", in.UniqueID,
		"{random8}", in.Random8,
		"{space}", in.SpaceName,
		"{filename}", in.Filename,
		"{basename}", basename,
		"{ext}", ext,
	)
	key := replacer.Replace(in.Config.Schema)

	options := in.Config.Options
	if options.Lowercase {
		key = strings.ToLower(key)
	}
	if options.ReplaceSpacesWithDash {
		key = whitespaceRun.ReplaceAllString(key, "-")
	}
	if options.StripAccents {
		key = stripAccents(key)
	}
	key = disallowedKeyChars.ReplaceAllString(key, "")

	return truncateKey(key, options.MaxLength)
}

func stripAccents(value string) string {
	decomposed := norm.NFD.String(value)
	var builder strings.Builder
	builder.Grow(len(decomposed))
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		builder.WriteRune(r)
	}
	return builder.String()
}

// truncateKey enforces the configured maximum length while keeping the
// extension intact.
func truncateKey(key string, maxLength int) string {
	if maxLength <= 0 || len(key) <= maxLength {
		return key
	}
	ext := ""
	if idx := strings.LastIndex(key, "."); idx >= 0 {
		ext = key[idx:]
	}
	if len(ext) >= maxLength {
		return key[:maxLength]
	}
	return key[:maxLength-len(ext)] + ext
}
