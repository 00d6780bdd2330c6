package transform

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pectics/clash-relay/internal/clash"
)

const filterOnlyInput = `mixed-port: 7890
dns:
  enable: true
proxies:
  - {name: "🇭🇰 HK-1", type: ss, server: hk.example.com, port: 443}
  - {name: Relay, type: http, server: relay.example.com, port: 8080}
proxy-groups:
  - name: Provider
    type: select
    proxies: ["🇭🇰 HK-1", Relay]
rules:
  - MATCH,Provider
x-custom:
  keep: me
`

const renameInput = `proxies:
  - {name: "剩余流量：100 GB", type: ss, server: a.example.com, port: 1}
  - {name: "距离下次重置剩余：10 天", type: ss, server: a.example.com, port: 1}
  - {name: "套餐到期：2030-01-01", type: ss, server: a.example.com, port: 1}
  - {name: "官网 example.com", type: ss, server: a.example.com, port: 1}
  - {name: "HK 香港 全局 负载 01", type: ss, server: hk.example.com, port: 443}
  - {name: "US 美国 动态 加速 02", type: ss, server: us.example.com, port: 443}
proxy-groups:
  - name: " Brand "
    type: select
    proxies:
      - 自动选择
      - 故障转移
      - "剩余流量：100 GB"
      - "距离下次重置剩余：10 天"
      - "套餐到期：2030-01-01"
      - "官网 example.com"
      - "HK 香港 全局 负载 01"
      - "US 美国 动态 加速 02"
  - name: 自动选择
    type: url-test
    proxies:
      - "剩余流量：100 GB"
      - "距离下次重置剩余：10 天"
      - "套餐到期：2030-01-01"
      - "官网 example.com"
      - "HK 香港 全局 负载 01"
      - "US 美国 动态 加速 02"
  - name: 故障转移
    type: fallback
    proxies:
      - "剩余流量：100 GB"
      - "距离下次重置剩余：10 天"
      - "套餐到期：2030-01-01"
      - "官网 example.com"
      - "HK 香港 全局 负载 01"
      - "US 美国 动态 加速 02"
  - name: Streaming
    type: select
    proxies: [Brand, DIRECT]
rules:
  - DOMAIN-SUFFIX,example.com,Brand
  - DOMAIN-KEYWORD,Brand,DIRECT
  - DOMAIN-SUFFIX,myexample.com,MyBrandX
  - MATCH,Brand
`

func decode(t *testing.T, src string) *clash.Document {
	t.Helper()
	doc, err := clash.Decode([]byte(src))
	require.NoError(t, err)
	return doc
}

func proxyNames(doc *clash.Document) []string {
	var out []string
	for _, p := range doc.Proxies() {
		out = append(out, p.Name())
	}
	return out
}

func groupNames(doc *clash.Document) []string {
	var out []string
	for _, g := range doc.Groups() {
		out = append(out, g.Name())
	}
	return out
}

func members(t *testing.T, g clash.Group) []string {
	t.Helper()
	m, ok, err := g.Members()
	require.NoError(t, err)
	require.True(t, ok, "group %q has no proxies", g.Name())
	return m
}

func residential() Environment {
	return Environment{Residential: &ResidentialProxy{
		Host:     "res.example.net",
		Port:     1080,
		Username: "u",
		Password: "p",
	}}
}

func TestTransform_FilterOnly(t *testing.T) {
	doc := decode(t, filterOnlyInput)

	rep, err := Transform(doc, Environment{}, PolicyFilterOnly)
	require.NoError(t, err)

	assert.Equal(t, []string{"🇭🇰 HK-1"}, proxyNames(doc))

	groups := doc.Groups()
	require.Len(t, groups, 2)
	assert.Equal(t, GroupChatGPT, groups[0].Name())
	assert.Equal(t, "select", groups[0].Type())
	assert.Equal(t, []string{GroupInternational, PolicyDirect}, members(t, groups[0]))
	assert.Equal(t, GroupInternational, groups[1].Name())
	assert.Equal(t, []string{GroupAutoSelect, GroupFailover, "🇭🇰 HK-1"}, members(t, groups[1]))

	lines, err := doc.Rules()
	require.NoError(t, err)
	want := append(InjectedRules(PolicyFilterOnly), "MATCH,"+GroupInternational)
	assert.Equal(t, want, lines)
	assert.Equal(t, googleRule, lines[0])

	assert.Equal(t, "Provider", rep.Brand)
	assert.Equal(t, 2, rep.ProxiesIn)
	assert.Equal(t, 1, rep.ProxiesOut)
	assert.Equal(t, 1, rep.RulesRetargeted)
	assert.Equal(t, len(chatGPTRules)+1, rep.RulesInjected)
	assert.False(t, rep.ResidentialInjected)
	assert.Empty(t, rep.DialerTarget)
	assert.Empty(t, rep.DuplicateNames)
	assert.Empty(t, rep.DanglingReferences)
}

func TestTransform_FilterOnlyWithResidential(t *testing.T) {
	doc := decode(t, filterOnlyInput)

	rep, err := Transform(doc, residential(), PolicyFilterOnly)
	require.NoError(t, err)
	assert.True(t, rep.ResidentialInjected)
	assert.Equal(t, GroupAutoSelect, rep.DialerTarget)

	proxies := doc.Proxies()
	require.Len(t, proxies, 2)
	res := proxies[0]
	assert.Equal(t, ProxyResidential, res.Name())
	assert.Equal(t, "socks5", res.Type())
	for key, want := range map[string]string{
		"server":       "res.example.net",
		"port":         "1080",
		"username":     "u",
		"password":     "p",
		"udp":          "true",
		"dialer-proxy": GroupAutoSelect,
	} {
		got, ok := res.Field(key)
		assert.True(t, ok, key)
		assert.Equal(t, want, got, key)
	}

	groups := doc.Groups()
	require.NotEmpty(t, groups)
	assert.Equal(t, []string{ProxyResidential, GroupInternational, PolicyDirect}, members(t, groups[0]))
	assert.Empty(t, rep.DanglingReferences)
}

func TestTransform_FilterAndRename(t *testing.T) {
	doc := decode(t, renameInput)

	rep, err := Transform(doc, residential(), PolicyFilterAndRename)
	require.NoError(t, err)

	hk := "🇭🇰 01 全局"
	us := "🇺🇸 02 D+"
	assert.Equal(t, []string{ProxyResidential, hk, us}, proxyNames(doc))

	assert.Equal(t, []string{GroupChatGPT, GroupInternational, GroupAutoSelect, GroupFailover, "Streaming", GroupISPDialer}, groupNames(doc))
	groups := doc.Groups()
	assert.Equal(t, []string{GroupAutoSelect, GroupFailover, hk, us}, members(t, groups[1]))
	assert.Equal(t, []string{hk, us}, members(t, groups[2]))
	assert.Equal(t, []string{hk, us}, members(t, groups[3]))
	assert.Equal(t, []string{"Brand", PolicyDirect}, members(t, groups[4]), "groups past the third are untouched")

	dialer := groups[5]
	assert.Equal(t, "url-test", dialer.Type())
	assert.Equal(t, []string{us}, members(t, dialer))
	healthURL, _ := dialer.Field("url")
	assert.Equal(t, ISPDialerProbeURL, healthURL)
	interval, _ := dialer.Field("interval")
	assert.Equal(t, "3600", interval)

	assert.Equal(t, "Brand", rep.Brand)
	assert.Equal(t, GroupISPDialer, rep.DialerTarget)
	assert.True(t, rep.ISPDialer)

	lines, err := doc.Rules()
	require.NoError(t, err)
	injected := InjectedRules(PolicyFilterAndRename)
	require.Len(t, lines, len(injected)+4)
	assert.Equal(t, injected, lines[:len(injected)])
	assert.Equal(t, []string{
		"DOMAIN-SUFFIX,example.com," + GroupInternational,
		"DOMAIN-KEYWORD,Brand,DIRECT",
		"DOMAIN-SUFFIX,myexample.com,MyBrandX",
		"MATCH," + GroupInternational,
	}, lines[len(injected):])
	assert.Equal(t, 2, rep.RulesRetargeted)

	// Streaming still points at the old brand name, and MyBrandX never
	// existed; both are reported, not repaired.
	assert.ElementsMatch(t, []Reference{
		{Kind: "group", Owner: "Streaming", Name: "Brand"},
		{Kind: "rule", Owner: "DOMAIN-SUFFIX,myexample.com,MyBrandX", Name: "MyBrandX"},
	}, rep.DanglingReferences)
}

func TestTransform_ISPDialerRequiresUSProxy(t *testing.T) {
	src := `proxies:
  - {name: i1, type: ss}
  - {name: i2, type: ss}
  - {name: i3, type: ss}
  - {name: i4, type: ss}
  - {name: "JP 东京 01", type: ss}
proxy-groups:
  - {name: Brand, type: select, proxies: [a, b, i1, i2, i3, i4, "JP 东京 01"]}
rules:
  - MATCH,Brand
`
	doc := decode(t, src)
	rep, err := Transform(doc, residential(), PolicyFilterAndRename)
	require.NoError(t, err)

	assert.False(t, rep.ISPDialer)
	assert.Equal(t, PolicyDirect, rep.DialerTarget)
	assert.NotContains(t, groupNames(doc), GroupISPDialer)
	dialer, _ := doc.Proxies()[0].Field("dialer-proxy")
	assert.Equal(t, PolicyDirect, dialer)
}

func TestTransform_ISPDialerFromCJKStyleNames(t *testing.T) {
	src := `proxies:
  - {name: i1, type: ss}
  - {name: i2, type: ss}
  - {name: i3, type: ss}
  - {name: i4, type: ss}
  - {name: "US美国 动态 加速 02", type: ss}
  - {name: "HK香港01", type: ss}
proxy-groups:
  - {name: Brand, type: select, proxies: [a, b, i1, i2, i3, i4, "US美国 动态 加速 02", "HK香港01"]}
`
	doc := decode(t, src)
	rep, err := Transform(doc, residential(), PolicyFilterAndRename)
	require.NoError(t, err)

	us := "🇺🇸 02 D+"
	assert.Equal(t, []string{ProxyResidential, us, "🇭🇰香港01"}, proxyNames(doc))
	assert.True(t, rep.ISPDialer)
	assert.Equal(t, GroupISPDialer, rep.DialerTarget)
	dialer, _ := doc.Proxies()[0].Field("dialer-proxy")
	assert.Equal(t, GroupISPDialer, dialer)

	groups := doc.Groups()
	require.Equal(t, GroupISPDialer, groups[len(groups)-1].Name())
	assert.Equal(t, []string{us}, members(t, groups[len(groups)-1]))
}

func TestTransform_AnchoredMemberListIsNotShared(t *testing.T) {
	src := `proxies:
  - {name: i1, type: ss}
  - {name: i2, type: ss}
  - {name: i3, type: ss}
  - {name: i4, type: ss}
  - {name: "HK 01", type: ss}
  - {name: "JP 02", type: ss}
  - {name: "SG 03", type: ss}
proxy-groups:
  - name: Brand
    type: select
    proxies: &all [a, b, i1, i2, i3, i4, "HK 01", "JP 02", "SG 03"]
  - name: 自动选择
    type: url-test
    proxies: *all
  - name: Others
    type: select
    proxies: *all
`
	doc := decode(t, src)
	_, err := Transform(doc, Environment{}, PolicyFilterAndRename)
	require.NoError(t, err)

	groups := doc.Groups()
	require.Equal(t, GroupInternational, groups[1].Name())
	assert.Equal(t, []string{"a", "b", "🇭🇰 01", "🇯🇵 02", "🇸🇬 03"}, members(t, groups[1]))
	assert.Equal(t, []string{"i3", "i4", "🇭🇰 01", "🇯🇵 02", "🇸🇬 03"}, members(t, groups[2]))
	assert.Equal(t, []string{"i3", "i4", "🇭🇰 01", "🇯🇵 02", "🇸🇬 03"}, members(t, groups[3]))

	out, err := doc.Encode()
	require.NoError(t, err)
	again, err := clash.Decode(out)
	require.NoError(t, err)
	assert.Len(t, again.Groups(), len(groups))
}

func TestTransform_ISPDialerReplacesExisting(t *testing.T) {
	src := `proxies:
  - {name: i1, type: ss}
  - {name: i2, type: ss}
  - {name: i3, type: ss}
  - {name: i4, type: ss}
  - {name: "US 01", type: ss}
proxy-groups:
  - {name: Brand, type: select, proxies: [a, b, i1, i2, i3, i4, "US 01"]}
  - {name: ISP Dialer, type: select, proxies: [DIRECT]}
`
	doc := decode(t, src)
	_, err := Transform(doc, Environment{}, PolicyFilterAndRename)
	require.NoError(t, err)

	names := groupNames(doc)
	assert.Equal(t, []string{GroupChatGPT, GroupInternational, GroupISPDialer}, names)
	assert.Equal(t, []string{"🇺🇸 01"}, members(t, doc.Groups()[2]))
}

func TestTransform_EmptyGroups(t *testing.T) {
	src := `proxies:
  - {name: "🇺🇸 US-1", type: ss}
rules:
  - MATCH,DIRECT
`
	for _, policy := range []Policy{PolicyFilterOnly, PolicyFilterAndRename} {
		t.Run(policy.String(), func(t *testing.T) {
			doc := decode(t, src)
			rep, err := Transform(doc, residential(), policy)
			require.NoError(t, err)

			assert.Empty(t, doc.Groups())
			assert.Empty(t, rep.Brand)
			assert.False(t, rep.ISPDialer)
			if policy == PolicyFilterAndRename {
				assert.Equal(t, PolicyDirect, rep.DialerTarget)
			}

			lines, err := doc.Rules()
			require.NoError(t, err)
			assert.Equal(t, "MATCH,DIRECT", lines[len(lines)-1])
			assert.Equal(t, 0, rep.RulesRetargeted)
		})
	}
}

func TestTransform_BrandGroupWithoutProxies(t *testing.T) {
	src := `proxy-groups:
  - {name: Brand, type: select, use: [provider]}
rules:
  - MATCH,Brand
`
	doc := decode(t, src)
	rep, err := Transform(doc, Environment{}, PolicyFilterOnly)
	require.NoError(t, err)

	assert.Equal(t, "Brand", rep.Brand)
	assert.Equal(t, []string{GroupAutoSelect, GroupFailover}, members(t, doc.Groups()[1]))
	lines, err := doc.Rules()
	require.NoError(t, err)
	assert.Equal(t, "MATCH,"+GroupInternational, lines[len(lines)-1])
}

func TestTransform_MalformedGroup(t *testing.T) {
	cases := map[string]string{
		"not a mapping": "proxy-groups:\n  - just-a-string\n",
		"nested member": "proxy-groups:\n  - {name: G, type: select, proxies: [[a]]}\n",
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			doc := decode(t, src)
			_, err := Transform(doc, Environment{}, PolicyFilterOnly)
			require.Error(t, err)

			var te *Error
			require.True(t, errors.As(err, &te))
			assert.Equal(t, "TRANSFORM_FAILED", te.AppError.Code)
			assert.Equal(t, "proxy_groups", te.AppError.Stage)
		})
	}
}

func TestTransform_InvalidPolicy(t *testing.T) {
	doc := decode(t, filterOnlyInput)
	_, err := Transform(doc, Environment{}, Policy(0))
	var te *Error
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "transform", te.AppError.Stage)
}

func TestTransform_PreservesUnknownKeys(t *testing.T) {
	doc := decode(t, filterOnlyInput)
	_, err := Transform(doc, Environment{}, PolicyFilterOnly)
	require.NoError(t, err)

	assert.Equal(t, []string{"mixed-port", "dns", "proxies", "proxy-groups", "rules", "x-custom"}, doc.Keys())

	out, err := doc.Encode()
	require.NoError(t, err)
	again, err := clash.Decode(out)
	require.NoError(t, err)
	custom := again.Lookup("x-custom")
	require.NotNil(t, custom)
	assert.Contains(t, string(out), "keep: me")
}

func TestInjectedRules(t *testing.T) {
	a := InjectedRules(PolicyFilterOnly)
	b := InjectedRules(PolicyFilterAndRename)

	assert.Len(t, a, 35)
	assert.Len(t, b, 34)
	assert.Equal(t, googleRule, a[0])
	assert.Equal(t, a[1:], b)
	assert.Equal(t, "DOMAIN-SUFFIX,auth.openai.com,ChatGPT", b[0])
	assert.Equal(t, "DOMAIN,workos.imgix.net,ChatGPT", b[len(b)-1])

	b[0] = "mutated"
	assert.Equal(t, "DOMAIN-SUFFIX,auth.openai.com,ChatGPT", InjectedRules(PolicyFilterAndRename)[0])
}

func TestTransform_InjectedBlockIsStable(t *testing.T) {
	first := decode(t, filterOnlyInput)
	second := decode(t, filterOnlyInput)
	_, err := Transform(first, Environment{}, PolicyFilterOnly)
	require.NoError(t, err)
	_, err = Transform(second, Environment{}, PolicyFilterOnly)
	require.NoError(t, err)

	a, err := first.Encode()
	require.NoError(t, err)
	b, err := second.Encode()
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestDuplicateNames(t *testing.T) {
	src := `proxies:
  - {name: A, type: ss}
  - {name: A, type: ss}
  - {name: G, type: ss}
proxy-groups:
  - {name: G, type: select, proxies: [A]}
`
	assert.Equal(t, []string{"A", "G"}, DuplicateNames(decode(t, src)))
	assert.Nil(t, DuplicateNames(decode(t, filterOnlyInput)))
}

func TestCheckReferences(t *testing.T) {
	src := `proxies:
  - {name: A, type: ss, dialer-proxy: Missing}
proxy-groups:
  - {name: G, type: select, proxies: [A, REJECT, Ghost]}
rules:
  - DOMAIN,a.com,G
  - DOMAIN,b.com,A
  - DOMAIN,c.com,REJECT
  - not a rule
`
	refs := CheckReferences(decode(t, src))
	assert.Equal(t, []Reference{
		{Kind: "dialer-proxy", Owner: "A", Name: "Missing"},
		{Kind: "group", Owner: "G", Name: "Ghost"},
		{Kind: "rule", Owner: "DOMAIN,b.com,A", Name: "A"},
	}, refs)
	assert.Equal(t, `group "G" -> "Ghost"`, refs[1].String())
}
