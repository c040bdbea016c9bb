package charge

import "fmt"

func chargedMessage(name string, amount int64, chargeDate string) string {
	return fmt.Sprintf("We've successfully charged %s %d pounds, and they'll be charged on %s.", name, amount, chargeDate)
}

func tooManyCustomersMessage(name string) string {
	return fmt.Sprintf("Sorry - you have too many Go Cardless customers, so we couldn't look up %s.", name)
}

func moreThanOneMatchMessage(name string) string {
	return fmt.Sprintf("Sorry - we found more than one customer called %s, so we couldn't tell who to charge.", name)
}

func notFoundMessage(name string) string {
	return fmt.Sprintf("Sorry - we couldn't find a customer called %s - check your Dashboard and try again.", name)
}

func genericErrorMessage(name string) string {
	return fmt.Sprintf("Sorry - something went wrong when we were charging %s. Check your Dashboard to make sure they weren't charged, then try again.", name)
}
