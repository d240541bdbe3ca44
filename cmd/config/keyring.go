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

package config

import (
	"fmt"

	"github.com/99designs/keyring"
)

const keyringService = "mailbiff"

// OpenKeyring opens the system keyring. Tests replace it.
var OpenKeyring = func() (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: keyringService,
		AllowedBackends: []keyring.BackendType{
			keyring.SecretServiceBackend,
			keyring.KWalletBackend,
			keyring.KeychainBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
		},
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}

	return ring, nil
}

// GetKeyringPassword returns the password stored for an account.
func GetKeyringPassword(name string) (string, error) {
	ring, err := OpenKeyring()
	if err != nil {
		return "", err
	}

	item, err := ring.Get(name)
	if err != nil {
		return "", fmt.Errorf("getting password for %q: %w", name, err)
	}

	return string(item.Data), nil
}

// SetKeyringPassword stores the password for an account.
func SetKeyringPassword(name string, password string) error {
	ring, err := OpenKeyring()
	if err != nil {
		return err
	}

	err = ring.Set(keyring.Item{
		Key:         name,
		Data:        []byte(password),
		Label:       fmt.Sprintf("MailBiff password for %v", name),
		Description: "mail account password",
	})
	if err != nil {
		return fmt.Errorf("setting password for %q: %w", name, err)
	}

	return nil
}
