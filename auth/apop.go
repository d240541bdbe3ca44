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
	"crypto/md5" // #nosec G501
	"encoding/hex"
	"regexp"
)

var apopToken = regexp.MustCompile(`<[^<>@\s]+@[^<>\s]+>`)

// APOPChallenge extracts the "<...@...>" timestamp from a POP3 greeting.
func APOPChallenge(greeting string) (string, bool) {
	token := apopToken.FindString(greeting)
	return token, token != ""
}

// APOPDigest is hex(MD5(challenge || password)), RFC 1939 section 7.
func APOPDigest(challenge string, password string) string {
	sum := md5.Sum([]byte(challenge + password)) // #nosec G401
	return hex.EncodeToString(sum[:])
}
