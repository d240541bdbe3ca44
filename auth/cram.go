/*
 * MailBiff - Copyright (C) 2022 Zane van Iperen.
 *    Contact: zane@zanevaniperen.com
 *
 * This program is free software; you can redistribute it and/or modify
 * it under the terms of the GNU General Public License version 2, and only
 * version 2 as published by the Free Software Foundation.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program; if not, write to the Free Software
 * Foundation, Inc., 59 Temple Place, Suite 330, Boston, MA  02111-1307  USA
 */

package auth

import (
	"crypto/hmac"
	"crypto/md5" // #nosec G501
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/emersion/go-sasl"
)

// CRAMMD5 is the SASL mechanism name.
const CRAMMD5 = "CRAM-MD5"

var errUnexpectedChallenge = errors.New("unexpected server challenge")

// HMACMD5 computes HMAC-MD5 with a 64-byte block. Keys longer than the
// block are replaced by their MD5 digest first.
func HMACMD5(key []byte, message []byte) [md5.Size]byte {
	var out [md5.Size]byte
	mac := hmac.New(md5.New, key)
	_, _ = mac.Write(message)
	copy(out[:], mac.Sum(nil))
	return out
}

func cramDigest(user string, password string, challenge []byte) []byte {
	digest := HMACMD5([]byte(password), challenge)
	return []byte(user + " " + hex.EncodeToString(digest[:]))
}

// CRAMResponse builds the base64 encoded client response to a base64
// encoded CRAM-MD5 challenge, as described in RFC 2195.
func CRAMResponse(user string, password string, challenge string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(challenge)
	if err != nil {
		return "", fmt.Errorf("invalid cram-md5 challenge: %w", err)
	}

	return base64.StdEncoding.EncodeToString(cramDigest(user, password, raw)), nil
}

type cramClient struct {
	username string
	password string
	done     bool
}

// NewCRAMMD5Client returns a sasl.Client implementing CRAM-MD5. Next expects
// the decoded challenge and returns the raw, unencoded response.
func NewCRAMMD5Client(username string, password string) sasl.Client {
	return &cramClient{username: username, password: password}
}

func (c *cramClient) Start() (mech string, ir []byte, err error) {
	c.done = false
	return CRAMMD5, nil, nil
}

func (c *cramClient) Next(challenge []byte) ([]byte, error) {
	if c.done {
		return nil, errUnexpectedChallenge
	}

	c.done = true
	return cramDigest(c.username, c.password, challenge), nil
}
