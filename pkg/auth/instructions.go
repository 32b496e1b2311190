package auth

import (
	"fmt"
	"strings"
)

// ShowDropboxSetupGuide displays step-by-step instructions for obtaining
// long-lived Dropbox credentials.
func ShowDropboxSetupGuide() {
	fmt.Println(strings.Repeat("=", 80))
	fmt.Println("📦 DROPBOX CREDENTIAL SETUP GUIDE")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Println()

	fmt.Println("This tool mirrors downloaded photos into your Dropbox. It needs a")
	fmt.Println("refresh token so uploads keep working after the short-lived access")
	fmt.Println("token expires (about 4 hours).")
	fmt.Println()

	fmt.Println("🛠  STEP 1: Create a Dropbox app")
	fmt.Println("   - Go to https://www.dropbox.com/developers/apps")
	fmt.Println("   - Click 'Create app', choose 'Scoped access'")
	fmt.Println("   - Pick 'Full Dropbox' or 'App folder' access")
	fmt.Println("   - In the Permissions tab, enable files.content.write and")
	fmt.Println("     files.content.read, then Submit")
	fmt.Println()

	fmt.Println("🔑 STEP 2: Note your App key and App secret")
	fmt.Println("   - Both are shown on the app's Settings tab")
	fmt.Println()

	fmt.Println("🌐 STEP 3: Authorize with offline access")
	fmt.Println("   Open this URL in a browser (substitute your app key):")
	fmt.Println()
	fmt.Println("   https://www.dropbox.com/oauth2/authorize?client_id=APP_KEY" +
		"&response_type=code&token_access_type=offline")
	fmt.Println()
	fmt.Println("   Approve the app and copy the authorization code it shows.")
	fmt.Println()

	fmt.Println("🔄 STEP 4: Exchange the code for a refresh token")
	fmt.Println("   curl https://api.dropboxapi.com/oauth2/token \\")
	fmt.Println("       -d code=AUTH_CODE \\")
	fmt.Println("       -d grant_type=authorization_code \\")
	fmt.Println("       -u APP_KEY:APP_SECRET")
	fmt.Println()
	fmt.Println("   The JSON response contains \"refresh_token\"; that value never")
	fmt.Println("   expires unless you revoke the app.")
	fmt.Println()

	fmt.Println("💡 TIPS:")
	fmt.Println("   • The refresh token, app key, and app secret go together; store")
	fmt.Println("     all three")
	fmt.Println("   • For unattended runs, set DROPBOX_APP_KEY, DROPBOX_APP_SECRET,")
	fmt.Println("     and DROPBOX_REFRESH_TOKEN in the environment or a .env file")
	fmt.Println()

	fmt.Println("⚠️  SECURITY WARNING:")
	fmt.Println("   • These credentials give write access to your Dropbox")
	fmt.Println("   • NEVER share them or commit them to version control")
	fmt.Println("   • Store them securely (this tool encrypts them at rest)")
	fmt.Println()
	fmt.Println(strings.Repeat("=", 80))
	fmt.Println()
}

// ShowQuickSetupGuide shows a condensed version for experienced users
func ShowQuickSetupGuide() {
	fmt.Println("\n📦 Quick Guide: dropbox.com/developers/apps → Create scoped app →" +
		" authorize with token_access_type=offline → exchange code for refresh token")
	fmt.Println("   Need: app key, app secret, refresh token")
	fmt.Println("   Type 'help' for detailed instructions")
}
