// Package google provides the credential provider for the Gmail API.
//
// Authentication uses the installed-app OAuth2 flow with two files, both
// configurable on the command line:
//
//   - credentials.json: the OAuth client secret downloaded from the Google
//     Cloud console.
//   - token.json: the authorized user's tokens, written automatically when
//     the authorization flow completes and rewritten whenever a token is
//     refreshed.
//
// The rest of the application only consumes the *http.Client returned by
// Provider.Client; no other component touches credentials.
package google
