/*
Package client is the Go client of the operator admin API, used by the
CLI subcommands.

Every request carries a freshly minted bearer token signed with the
shared API secret. Reads use a read scoped token and are retried a few
times on transport errors. Actions use an admin token and are sent once.

	c, err := client.NewClient("127.0.0.1:9090", secret)
	if err != nil {
		return err
	}
	st, err := c.Status(ctx)

Non-2xx answers are returned as *Error with the HTTP code. IsConflict
reports answers asking to run the action on the leader unit.
*/
package client
