// Package auth exchanges credentials with the chat auth service.
//
// Input is trimmed and validated before any request is made. A login counts as
// successful only when the service answers with a success flag; the HTTP status
// alone is never enough. Failures split into two families that callers render
// differently:
//
//   - chat.ErrInvalidCredentials: the service answered and said no. The
//     concrete *RejectedError tells a 2xx with success=false apart from a 4xx.
//   - chat.ErrAuthServiceUnavailable: the service could not be reached, failed
//     with 5xx, or sent a response that could not be understood.
package auth
