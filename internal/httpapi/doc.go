// Package httpapi exposes the authentication engine over HTTP: login,
// logout, signup, password reset, the /auth status check, health and
// metrics.
//
// Request and response bodies keep the field names the crowdfunding
// frontend already sends (userMail, userPassword, _id, ...). The refresh
// token travels only in an HttpOnly cookie.
package httpapi
