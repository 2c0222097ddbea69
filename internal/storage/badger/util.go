package badger

import "regexp"

// prefixRegexp builds an anchored, escaped regular expression matching
// any string beginning with prefix, for use with badgerhold's
// Where(...).RegExp(...) queries.
func prefixRegexp(prefix string) *regexp.Regexp {
	return regexp.MustCompile("^" + regexp.QuoteMeta(prefix))
}
