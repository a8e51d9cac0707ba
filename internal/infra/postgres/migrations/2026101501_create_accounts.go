package migrations

import _ "embed"

//go:embed sql/2026101501_create_accounts.up.sql
var createAccountsSQL string

func init() {
	Migrations.MustRegister(
		execSQL(createAccountsSQL),
		execSQL(`DROP TABLE IF EXISTS accounts`),
	)
}
