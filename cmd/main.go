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

package cmd

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"github.com/vs49688/mailbiff/cmd/check"
	"github.com/vs49688/mailbiff/cmd/run"
	"github.com/vs49688/mailbiff/cmd/setpassword"
)

func Main() {
	app := cli.App{
		Name:  "mailbiff",
		Usage: os.Args[0],
		Description: `MailBiff polls POP3 and IMAP mailboxes and reports how many
messages are unread and read in each of them.
`,
	}

	run.RegisterCommand(&app)
	check.RegisterCommand(&app)
	setpassword.RegisterCommand(&app)

	err := app.Run(os.Args)
	if err != nil {
		log.Fatal(err)
	}
}
