package httptp

import "errors"

var (
	// ErrHTTPStatus indicates a non-200 response from the endpoint.
	ErrHTTPStatus = errors.New("unexpected http status")
	// ErrGraphQL indicates the response carried GraphQL-level errors.
	ErrGraphQL = errors.New("graphql errors")
	// ErrNoData indicates a 200 response with neither data nor errors.
	ErrNoData = errors.New("response carried no data")
)
