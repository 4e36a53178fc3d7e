package fetch

import (
	"crypto/md5"
	"fmt"
	"net/http"
	"strings"
)

// applyChallengeResponse inspects a 401 response's WWW-Authenticate header
// and, if credentials are configured, retries the request with the
// appropriate Authorization header. It returns the retried response (or the
// original if no challenge applied) and any error from the retried request.
//
// Per §4.B, credentials are presented only on challenge, never proactively,
// and a previous-failure-count greater than zero cancels the challenge (no
// second retry is attempted even if the server challenges again).
func applyChallengeResponse(client *http.Client, req *http.Request, resp *http.Response, creds *Credentials, priorFailures int) (*http.Response, error) {
	if resp.StatusCode != http.StatusUnauthorized || creds == nil || priorFailures > 0 {
		return resp, nil
	}
	challenge := resp.Header.Get("WWW-Authenticate")
	if challenge == "" {
		return resp, nil
	}

	retry := req.Clone(req.Context())
	switch {
	case strings.HasPrefix(strings.ToLower(challenge), "digest"):
		header, err := digestAuthorization(challenge, req.Method, req.URL.RequestURI(), creds)
		if err != nil {
			return resp, nil
		}
		retry.Header.Set("Authorization", header)
	case strings.HasPrefix(strings.ToLower(challenge), "basic"):
		retry.SetBasicAuth(creds.Username, creds.Password)
	default:
		return resp, nil
	}

	resp.Body.Close()
	return client.Do(retry)
}

func digestAuthorization(challenge, method, uri string, creds *Credentials) (string, error) {
	params := parseDigestChallenge(challenge)
	realm := params["realm"]
	nonce := params["nonce"]
	if realm == "" || nonce == "" {
		return "", fmt.Errorf("digest challenge missing realm/nonce")
	}

	ha1 := md5hex(fmt.Sprintf("%s:%s:%s", creds.Username, realm, creds.Password))
	ha2 := md5hex(fmt.Sprintf("%s:%s", method, uri))

	qop := params["qop"]
	var response string
	var extra string
	if qop != "" {
		nc := "00000001"
		cnonce := "0a4f113b"
		response = md5hex(strings.Join([]string{ha1, nonce, nc, cnonce, qop, ha2}, ":"))
		extra = fmt.Sprintf(`, qop=%s, nc=%s, cnonce="%s"`, qop, nc, cnonce)
	} else {
		response = md5hex(strings.Join([]string{ha1, nonce, ha2}, ":"))
	}

	return fmt.Sprintf(
		`Digest username="%s", realm="%s", nonce="%s", uri="%s", response="%s"%s`,
		creds.Username, realm, nonce, uri, response, extra,
	), nil
}

func md5hex(s string) string {
	sum := md5.Sum([]byte(s))
	return fmt.Sprintf("%x", sum)
}

func parseDigestChallenge(challenge string) map[string]string {
	out := make(map[string]string)
	challenge = strings.TrimSpace(strings.TrimPrefix(challenge, "Digest"))
	for _, part := range splitDigestParams(challenge) {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key := strings.TrimSpace(kv[0])
		val := strings.Trim(strings.TrimSpace(kv[1]), `"`)
		out[key] = val
	}
	return out
}

// splitDigestParams splits a comma-separated challenge parameter list while
// respecting quoted commas (unlikely in practice but cheap to handle).
func splitDigestParams(s string) []string {
	var parts []string
	var cur strings.Builder
	inQuotes := false
	for _, r := range s {
		switch r {
		case '"':
			inQuotes = !inQuotes
			cur.WriteRune(r)
		case ',':
			if inQuotes {
				cur.WriteRune(r)
			} else {
				parts = append(parts, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteRune(r)
		}
	}
	if cur.Len() > 0 {
		parts = append(parts, cur.String())
	}
	return parts
}
