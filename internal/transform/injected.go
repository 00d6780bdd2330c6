package transform

// googleRule routes every Google domain through ChatGPT. Only the
// filter-only deployment carries it.
const googleRule = "DOMAIN-KEYWORD,google," + GroupChatGPT

// chatGPTRules is prepended to every rewritten rule list, in this order.
var chatGPTRules = []string{
	"DOMAIN-SUFFIX,auth.openai.com,ChatGPT",
	"DOMAIN-SUFFIX,chatgpt.com,ChatGPT",
	"DOMAIN-SUFFIX,ct.sendgrid.net,ChatGPT",
	"DOMAIN-SUFFIX,featuregates.org,ChatGPT",
	"DOMAIN-SUFFIX,intercom.io,ChatGPT",
	"DOMAIN-SUFFIX,intercomcdn.com,ChatGPT",
	"DOMAIN-SUFFIX,oaistatic.com,ChatGPT",
	"DOMAIN-SUFFIX,oaiusercontent.com,ChatGPT",
	"DOMAIN-SUFFIX,openai.com,ChatGPT",
	"DOMAIN-SUFFIX,statsig.com,ChatGPT",
	"DOMAIN,android.chat.openai.com,ChatGPT",
	"DOMAIN,auth0.openai.com,ChatGPT",
	"DOMAIN,cdn.openaimerge.com,ChatGPT",
	"DOMAIN,cdn.workos.com,ChatGPT",
	"DOMAIN,challenges.cloudflare.com,ChatGPT",
	"DOMAIN,chat.openai.com,ChatGPT",
	"DOMAIN,desktop.chat.openai.com,ChatGPT",
	"DOMAIN,events.statsigapi.net,ChatGPT",
	"DOMAIN,featureassets.org,ChatGPT",
	"DOMAIN,forwarder.workos.com,ChatGPT",
	"DOMAIN,humb.apple.com,ChatGPT",
	"DOMAIN,images.workoscdn.com,ChatGPT",
	"DOMAIN,ios.chat.openai.com,ChatGPT",
	"DOMAIN,js.intercomcdn.com,ChatGPT",
	"DOMAIN,js.stripe.com,ChatGPT",
	"DOMAIN,o207216.ingest.sentry.io,ChatGPT",
	"DOMAIN,o33249.ingest.sentry.io,ChatGPT",
	"DOMAIN,prodregistryv2.org,ChatGPT",
	"DOMAIN,rum.browser-intake-datadoghq.com,ChatGPT",
	"DOMAIN,setup.auth.openai.com,ChatGPT",
	"DOMAIN,setup.workos.com,ChatGPT",
	"DOMAIN,statsigapi.net,ChatGPT",
	"DOMAIN,tcr9i.chat.openai.com,ChatGPT",
	"DOMAIN,workos.imgix.net,ChatGPT",
}

// InjectedRules returns a fresh copy of the rule block the policy prepends.
func InjectedRules(p Policy) []string {
	out := make([]string, 0, len(chatGPTRules)+1)
	if p == PolicyFilterOnly {
		out = append(out, googleRule)
	}
	return append(out, chatGPTRules...)
}
