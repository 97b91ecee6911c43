// Package client is the Go SDK for the clinledger HTTP API.
//
// # Connecting
//
// Read endpoints are public. Invalidation and the authentication attempt log
// need an operator token issued by 'ledgerctl token issue':
//
//	c, err := client.New("https://ledger.example.org",
//	    client.WithBearerToken(os.Getenv("LEDGER_TOKEN")),
//	    client.WithTimeout(30*time.Second),
//	)
//
// # Auditing a chain
//
//	report, err := c.VerifyChain(ctx, "signatures")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !report.IsValid {
//	    fmt.Printf("chain broken at %d: %s\n", *report.FirstBrokenSequence, report.Detail)
//	}
//
// # Signing a record
//
//	res, err := c.Sign(ctx, client.SignRequest{
//	    TableName:  "visits",
//	    RecordID:   "42",
//	    SignerID:   "u-alice",
//	    Credential: password,
//	    Meaning:    "APPROVED_BY",
//	})
//
// Failures carry the server's classification:
//
//	var apiErr *client.APIError
//	if errors.As(err, &apiErr) && apiErr.Code == "AUTHENTICATION_FAILURE" {
//	    // wrong credential; nothing was appended
//	}
package client
