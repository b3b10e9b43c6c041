package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	oai "github.com/houillon/basic-oai-harvester"
	"github.com/houillon/basic-oai-harvester/config"
)

const envelope = `<OAI-PMH xmlns="http://www.openarchives.org/OAI/2.0/">
  <responseDate>2024-01-15T10:00:00Z</responseDate>
  %s
</OAI-PMH>`

func TestInfoCommand(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body string
		switch r.URL.Query().Get("verb") {
		case "Identify":
			body = `<request verb="Identify">x</request>
<Identify>
  <repositoryName>Test</repositoryName><baseURL>x</baseURL><protocolVersion>2.0</protocolVersion>
  <adminEmail>a@example.com</adminEmail><earliestDatestamp>2000-01-01</earliestDatestamp>
  <deletedRecord>no</deletedRecord><granularity>YYYY-MM-DD</granularity>
</Identify>`
		case "ListSets":
			body = `<request verb="ListSets">x</request><error code="noSetHierarchy"/>`
		case "ListMetadataFormats":
			body = `<request verb="ListMetadataFormats">x</request>
<ListMetadataFormats><metadataFormat>
  <metadataPrefix>oai_dc</metadataPrefix><schema>s</schema><metadataNamespace>n</metadataNamespace>
</metadataFormat></ListMetadataFormats>`
		}
		fmt.Fprintf(w, envelope, body)
	}))
	defer ts.Close()

	t.Setenv("HOME", t.TempDir())
	t.Setenv(config.PathEnv, "")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"info", "-w", "2", ts.URL})
	defer rootCmd.SetOut(nil)
	require.NoError(t, rootCmd.ExecuteContext(context.Background()))

	var info oai.Info
	require.NoError(t, json.Unmarshal(out.Bytes(), &info))
	require.NotNil(t, info.Identify)
	require.Equal(t, "Test", info.Identify.RepositoryName)
	require.Empty(t, info.Sets)
	require.Empty(t, info.Errors)
	require.Len(t, info.Formats, 1)
}
