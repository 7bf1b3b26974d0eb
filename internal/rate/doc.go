// Package rate throttles failed logins and password reset traffic with Redis
// fixed-window counters.
//
// Keys:
//   - {prefix}:login:{identifier}        failures per account identifier
//   - {prefix}:login-ip:{ip}             failures per client address (optional)
//   - {prefix}:pwreset-req:{identifier}  reset code mails
//   - {prefix}:pwreset-try:{identifier}  reset code checks
package rate
