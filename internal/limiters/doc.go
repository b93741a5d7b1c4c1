// Package limiters throttles repeated credential failures against a bank
// login. Banks block accounts after few wrong PINs; the limiter cuts off
// retries well before the bank does.
package limiters
