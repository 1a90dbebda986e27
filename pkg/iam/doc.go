// Package iam holds the identity errors shared by the authentication
// middleware and the controllers it protects.
//
//   - iam/auth: JWT access tokens and the Fiber middleware that attaches
//     the caller's kernel.AuthContext to each request
//   - iam/scopes: scope names checked by controllers
//
// Authorization decisions beyond scope checks belong to the services behind
// the controllers.
package iam
