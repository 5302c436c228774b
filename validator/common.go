package validator

import (
	"net/url"
	"regexp"
)

var (
	// botTokenRegex matches "<bot id>:<secret>" as issued by BotFather
	botTokenRegex = regexp.MustCompile(`^[0-9]+:[A-Za-z0-9_-]+$`)

	// secretTokenRegex matches the characters Telegram accepts in a webhook secret token
	secretTokenRegex = regexp.MustCompile(`^[A-Za-z0-9_-]{1,256}$`)
)

// IsBotToken returns true if the string looks like a bot token
func IsBotToken(value string) bool {
	return Matches(value, botTokenRegex)
}

// IsSecretToken returns true if the string is a valid webhook secret token
func IsSecretToken(value string) bool {
	return Matches(value, secretTokenRegex)
}

// IsHTTPURL returns true if the string is a valid HTTP or HTTPS URL
func IsHTTPURL(value string) bool {
	if Blank(value) {
		return false
	}
	u, err := url.Parse(value)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// IsHTTPSURL returns true if the string is a valid HTTPS URL. Webhooks must use HTTPS.
func IsHTTPSURL(value string) bool {
	if Blank(value) {
		return false
	}
	u, err := url.Parse(value)
	return err == nil && u.Scheme == "https" && u.Host != ""
}

// InRange returns true if the integer value is between min and max (inclusive)
func InRange(value, min, max int) bool {
	return MinInt(value, min) && MaxInt(value, max)
}
