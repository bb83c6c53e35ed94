// Package client implements the request pipeline shared by typed API
// clients built on [net/http].
//
// # Building a Client
//
// Use [Build] with a base URL and functional options:
//
//	c, err := client.Build("https://api.example.com/v1",
//		client.WithTimeout(10*time.Second),
//		client.WithAuthorization(auth.NewBearer(token)),
//		client.WithBypassRules(bypass.MustMatch(`^/?health$`)),
//	)
//
// The serializable subset of the options can also be read from TOML with
// [LoadConfig] and applied with [FromConfig].
//
// # Executing Requests
//
// A [Request] names the method, path, query and body, and optionally the
// schemas its query, body and response must satisfy. [Client.Execute]
// runs it through the pipeline:
//
//  1. the query is validated, serialized and appended to the path;
//  2. the body is validated, and the parsed value is what gets sent;
//  3. unless a bypass rule matches, the authorization provider stamps
//     credentials on the request;
//  4. the request is dispatched;
//  5. a non-2xx answer becomes an [HTTPError], other failures are
//     returned as is, and either may be translated by a hook;
//  6. the response body is validated, or decoded per [ResponseType].
//
// [Do] wraps Execute and asserts the result type:
//
//	u, err := client.Do[User](ctx, c, client.Request{
//		Path:   "/users/7",
//		Output: schema.For[User](),
//	})
//
// # Errors
//
// Validation failures are [ValidationError] values carrying the phase and
// a readable report; non-2xx answers are [HTTPError] values carrying the
// raw body. Both can be matched with [errors.Is] against [ErrValidation]
// and [ErrUnexpectedStatusCode].
package client
