package client

// CloseConn closes the websocket under c without going through Close.
func CloseConn(c *Client) error {
	return c.ws.Close()
}
