/*
Package accounts implements user registration, login and email ownership checks
on top of a SQLite database.

New accounts are created inactive. A six digit one-time password is emailed to
the user and the account is only activated once that code is confirmed. Codes
expire, can only be re-requested after a cool-down, and are locked after a number
of wrong guesses. Password reset and the older link-based email verification use
signed, expiring tokens whose fingerprint covers the password hash and last login,
so a token stops working as soon as it has been used.

Every failure that should be shown to the end user is returned as an *Error whose
message is safe to display.
*/
package accounts
