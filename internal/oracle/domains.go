package oracle

import "regexp"

// defaultDisposableDomains is a seed list of throwaway-mailbox providers.
// Deployments extend it with oracle.disposable_domains.
var defaultDisposableDomains = []string{
	"10minutemail.com", "10minutemail.net", "anonbox.net", "discardmail.com",
	"dispostable.com", "fakeinbox.com", "getnada.com", "grr.la",
	"guerrillamail.com", "guerrillamail.net", "guerrillamail.org", "guerrillamailblock.com",
	"mailcatch.com", "maildrop.cc", "mailinator.com", "mailinator.net",
	"mailnesia.com", "mintemail.com", "mytrashmail.com", "sharklasers.com",
	"spam4.me", "spambox.us", "spamgourmet.com", "temp-mail.io",
	"temp-mail.org", "tempail.com", "tempmail.eu", "tempmailaddress.com",
	"throwaway.email", "tmpmail.net", "tmpmail.org", "trashmail.com",
	"trashmail.de", "trashmail.net", "yopmail.com", "yopmail.fr",
	"yopmail.net",
}

// disposablePatterns flags domains whose name gives them away.
var disposablePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)temp`),
	regexp.MustCompile(`(?i)disposable`),
	regexp.MustCompile(`(?i)trash`),
	regexp.MustCompile(`(?i)throwaway`),
	regexp.MustCompile(`(?i)guerrilla`),
	regexp.MustCompile(`(?i)mailinator`),
	regexp.MustCompile(`(?i)10minute`),
}

// commonTypos maps frequent misspellings of large providers to the intended domain.
var commonTypos = map[string]string{
	"gmial.com":   "gmail.com",
	"gmai.com":    "gmail.com",
	"gmaill.com":  "gmail.com",
	"gnail.com":   "gmail.com",
	"gmail.co":    "gmail.com",
	"gmail.con":   "gmail.com",
	"gamil.com":   "gmail.com",
	"hotmial.com": "hotmail.com",
	"hotmai.com":  "hotmail.com",
	"hotmail.co":  "hotmail.com",
	"hotmail.con": "hotmail.com",
	"yaho.com":    "yahoo.com",
	"yahooo.com":  "yahoo.com",
	"yahoo.con":   "yahoo.com",
	"outlok.com":  "outlook.com",
	"outlook.con": "outlook.com",
	"iclod.com":   "icloud.com",
	"icloud.con":  "icloud.com",
}

// addressRegex is the syntax check: one @, no whitespace, a dot in the domain.
var addressRegex = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
